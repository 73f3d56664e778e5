package secrets

// DefaultRules returns the fixed battery of detection rules applied to all
// outbound delegate content. Order matters only for finding attribution;
// redaction merges overlapping spans regardless of which rule found them.
func DefaultRules() []Rule {
	return []Rule{
		// Generic API key assignments
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*["']?[\w\-]{20,}`,
			Keywords:    []string{"api"},
		},

		// AWS
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
		},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS Secret Access Key assignment",
			Pattern:     `(?i)(?:aws[_-]?secret|secret[_-]?access[_-]?key)\s*[:=]\s*["']?[\w/+=]{30,}`,
			Keywords:    []string{"secret"},
		},

		// Google (AIza prefix is self-identifying)
		{
			ID:          "google-api-key",
			Description: "Google API Key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
		},

		// GitHub / GitLab (prefixes are self-identifying)
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `gh[pousr]_[A-Za-z0-9_]{36,}`,
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub fine-grained personal access token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:          "gitlab-token",
			Description: "GitLab personal access token",
			Pattern:     `glpat-[\w\-]{20,}`,
		},

		// Slack (prefix is self-identifying)
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},

		// PEM blocks: the whole BEGIN...END span, never just the header,
		// so redaction removes the key material itself.
		{
			ID:          "private-key",
			Description: "PEM private key block",
			Pattern:     `(?s)-----BEGIN [^-]*PRIVATE KEY-----.*?-----END [^-]*PRIVATE KEY-----`,
		},

		// Generic secret/token/password assignments
		{
			ID:          "generic-secret",
			Description: "Generic secret, token, or password assignment",
			Pattern:     `(?i)(?:secret|token|password|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}`,
			Keywords:    []string{"secret", "token", "password", "passwd", "pwd"},
		},

		// JWT: three base64url parts, eyJ header is self-identifying
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]+`,
		},

		// Credentialed connection-string URIs
		{
			ID:          "connection-string",
			Description: "Connection URI with embedded credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s:@]+:[^\s@]+@\S+`,
			Keywords:    []string{"://"},
		},

		// Shell-style env-file lines
		{
			ID:          "env-file-line",
			Description: "Env-file style assignment",
			Pattern:     `(?m)^[A-Z_]{3,}=\S{8,}$`,
		},
	}
}
