package guard

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/delegated/internal/audit"
	"github.com/fyrsmithlabs/delegated/internal/paths"
	"github.com/fyrsmithlabs/delegated/internal/secrets"
)

const instrumentationName = "github.com/fyrsmithlabs/delegated/internal/guard"

// Service validates and sanitizes outbound content before it may leave the
// trust boundary.
type Service interface {
	// Guard runs the full pipeline over content with its asserted
	// provenance. Nil and empty provenance both mean "unknown origin".
	Guard(ctx context.Context, content string, sources []string) Decision

	// Redact applies the secret-redaction primitive alone, bypassing
	// origin and file checks. Used for defense-in-depth redaction of
	// error-path excerpts.
	Redact(content string) (string, error)
}

// service implements Service.
type service struct {
	config *Config
	scrub  secrets.Scrubber
	deep   secrets.Scrubber // optional second engine, nil when disabled
	trail  audit.Trail
	logger *zap.Logger

	roots []string

	tracer    trace.Tracer
	meter     metric.Meter
	decisions metric.Int64Counter
	findings  metric.Int64Counter
}

// NewService creates a gate. A nil config uses DefaultConfig; a nil
// scrubber uses the built-in battery; deep may be nil to disable the
// second engine; a nil trail disables auditing.
func NewService(cfg *Config, scrub secrets.Scrubber, deep secrets.Scrubber, trail audit.Trail, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = DefaultConfig().MaxContentSize
	}
	if scrub == nil {
		var err error
		scrub, err = secrets.New(nil)
		if err != nil {
			return nil, err
		}
	}
	if trail == nil {
		trail = audit.NopTrail{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config: cfg,
		scrub:  scrub,
		deep:   deep,
		trail:  trail,
		logger: logger,
		roots:  paths.TrustedRoots(cfg.ConfigDir, cfg.ProjectDir, cfg.AllowedDirs),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()

	if cfg.ProjectDir == "" && len(cfg.AllowedDirs) == 0 {
		s.logger.Warn("no project dir or extra trusted dirs configured; project files will be rejected by the gate")
		s.trail.Log(audit.Record{
			Event:   audit.EventNoProjectDir,
			Details: "neither gate.project_dir nor gate.allowed_dirs is set; provenance outside the config dir will be rejected",
		})
	}

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.decisions, err = s.meter.Int64Counter(
		"delegated.gate.decisions_total",
		metric.WithDescription("Gate decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		s.logger.Warn("failed to create decisions counter", zap.Error(err))
	}

	s.findings, err = s.meter.Int64Counter(
		"delegated.gate.findings_total",
		metric.WithDescription("Secrets detected in outbound content"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		s.logger.Warn("failed to create findings counter", zap.Error(err))
	}
}

// Guard implements Service.
func (s *service) Guard(ctx context.Context, content string, sources []string) Decision {
	ctx, span := s.tracer.Start(ctx, "guard.guard_context")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(sources)))

	decision := s.pipeline(ctx, content, sources)

	span.SetAttributes(attribute.String("outcome", string(decision.Outcome)))
	if s.decisions != nil {
		s.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(decision.Outcome))))
	}
	if decision.Findings > 0 && s.findings != nil {
		s.findings.Add(ctx, int64(decision.Findings))
	}
	return decision
}

// pipeline is the fixed-order gate: size cap, origin policy, directory
// allowlist, file-pattern blocklist, secret scan, policy application.
func (s *service) pipeline(ctx context.Context, content string, sources []string) Decision {
	// Stage 1: size cap first, to bound the cost of the regex scan. The
	// limit counts characters, and the cut never splits a rune.
	truncated := false
	if len(content) > s.config.MaxContentSize {
		if runes := []rune(content); len(runes) > s.config.MaxContentSize {
			content = string(runes[:s.config.MaxContentSize]) + TruncationMarker
			truncated = true
			s.trail.Log(audit.Record{
				Event:   audit.EventContentTruncated,
				Details: fmt.Sprintf("content truncated to %d characters", s.config.MaxContentSize),
			})
		}
	}

	policy := s.policy()

	// Stage 2: origin policy. Nil and empty provenance are the same:
	// unknown origin.
	if len(sources) == 0 {
		if policy == PolicyRequireAllowlist {
			s.trail.Log(audit.Record{
				Event:    audit.EventBlockedUnknownOrigin,
				Decision: string(OutcomeRejected),
				Reason:   "no provenance under require_allowlist",
			})
			return rejected("provenance is required when consent policy is require_allowlist; provide explicit source paths for outbound content")
		}
		if s.config.StrictOrigin {
			s.trail.Log(audit.Record{
				Event:    audit.EventBlockedStrictOrigin,
				Decision: string(OutcomeRejected),
				Reason:   fmt.Sprintf("no provenance, strict origin enabled, policy=%s", policy),
			})
			return rejected("strict origin is enabled; provenance must be provided for all outbound content")
		}
		// Unknown origin tolerated: stages 3-4 have nothing to check,
		// the content scan still runs.
		s.trail.Log(audit.Record{
			Event:   audit.EventUnknownOrigin,
			Details: fmt.Sprintf("no provenance, policy=%s; directory and file checks skipped", policy),
		})
	} else {
		// Stage 3: every provenance path must resolve under a trusted
		// root after normalization and symlink resolution.
		var violations []string
		for _, src := range sources {
			if _, err := paths.EnsureWithin(src, s.roots); err != nil {
				resolved, rerr := paths.Resolve(src)
				if rerr != nil {
					resolved = src
				}
				violations = append(violations, resolved)
			}
		}
		if len(violations) > 0 {
			s.trail.Log(audit.Record{
				Event:    audit.EventBlockedDirectory,
				Decision: string(OutcomeRejected),
				Reason:   "provenance outside trusted roots",
				Details:  strings.Join(violations, ", "),
			})
			return rejected(fmt.Sprintf("provenance outside trusted directories: %s", strings.Join(violations, ", ")))
		}

		// Stage 4: sensitive-file signatures reject independently.
		var blocked []string
		for _, src := range sources {
			if fileBlocked(src) {
				blocked = append(blocked, src)
			}
		}
		if len(blocked) > 0 {
			s.trail.Log(audit.Record{
				Event:    audit.EventBlockedFiles,
				Decision: string(OutcomeRejected),
				Reason:   "provenance matches sensitive-file signature",
				Details:  strings.Join(blocked, ", "),
			})
			return rejected(fmt.Sprintf("blocked files detected: %s; these may contain secrets and cannot be sent to delegates", strings.Join(blocked, ", ")))
		}
	}

	// Stage 5: secret scan over the (possibly truncated) content,
	// optionally chased by the deep engine over the redacted output.
	result := s.scrub.Scrub(content)
	findings := result.TotalFindings
	rules := result.RuleIDs()
	sanitized := result.Scrubbed

	if s.deep != nil {
		deepResult := s.deep.Scrub(sanitized)
		findings += deepResult.TotalFindings
		rules = append(rules, deepResult.RuleIDs()...)
		sanitized = deepResult.Scrubbed
	}

	// Stage 6: policy application.
	if findings == 0 {
		return passed(content, truncated)
	}

	s.trail.Log(audit.Record{
		Event:    audit.EventSecretsFound,
		Findings: findings,
		Rules:    rules,
		Details:  fmt.Sprintf("policy=%s", policy),
	})

	if policy == PolicyBlock {
		s.logger.Warn("outbound content blocked by consent policy",
			zap.Int("findings", findings), zap.Strings("rules", rules))
		return rejected(fmt.Sprintf("%d potential secrets detected; consent policy is block", findings))
	}

	s.logger.Info("outbound content redacted",
		zap.Int("findings", findings), zap.Strings("rules", rules))
	return redacted(sanitized, findings, rules, truncated)
}

// Redact implements Service.
func (s *service) Redact(content string) (string, error) {
	result := s.scrub.Scrub(content)
	sanitized := result.Scrubbed
	if s.deep != nil {
		sanitized = s.deep.Scrub(sanitized).Scrubbed
	}
	return sanitized, nil
}

// policy resolves the consent policy per call, warning and auditing once
// per unrecognized value.
func (s *service) policy() Policy {
	policy, ok := normalizePolicy(s.config.ConsentPolicy)
	if !ok {
		s.logger.Warn("unrecognized consent policy, defaulting to redact",
			zap.String("configured", s.config.ConsentPolicy))
		s.trail.Log(audit.Record{
			Event:   audit.EventInvalidPolicy,
			Details: fmt.Sprintf("unknown consent policy %q, defaulting to redact", s.config.ConsentPolicy),
		})
	}
	return policy
}

var _ Service = (*service)(nil)
