// Package security flags likely leaked credentials and PII inside
// normalized conversation messages. Scanning is a pure function over
// in-memory text: no file or network access, and malformed content never
// raises.
package security

import (
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/platform"
)

// Level is the severity of a finding.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
)

// FindingType classifies what leaked.
type FindingType string

const (
	TypeSecret FindingType = "secret"
	TypePII    FindingType = "pii"
)

// Finding is a single detected leak. Never mutated after creation.
type Finding struct {
	Level       Level       `json:"level"`
	Type        FindingType `json:"type"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Remediation string      `json:"remediation"`
}

const (
	secretRemediation = "Remove secret and rotate it immediately"
	piiRemediation    = "Remove PII or ensure GDPR compliance"
)

type rule struct {
	name    string
	pattern *regexp.Regexp
}

// secretRules match provider-keyed API tokens, private-key headers, generic
// api_key assignments and JWT-shaped strings.
var secretRules = []rule{
	{"OpenAI API Key", regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{48}`)},
	{"OpenRouter Key", regexp.MustCompile(`(?i)sk-or-v1-[a-zA-Z0-9]{64}`)},
	{"Anthropic Key", regexp.MustCompile(`(?i)sk-ant-api03-[a-zA-Z0-9_-]{95}`)},
	{"AWS Access Key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"GitHub Token", regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`)},
	{"JWT Token", regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)},
	{"Private Key", regexp.MustCompile(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`)},
	{"Generic API Key", regexp.MustCompile(`(?i)api[_-]?key[\s:=]+['"]?([a-zA-Z0-9_-]{20,})['"]?`)},
}

// piiRules match SSN-shaped and credit-card-shaped numbers plus inline
// password literals.
var piiRules = []rule{
	{"SSN", regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)},
	{"Credit Card", regexp.MustCompile(`\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}`)},
	{"Password literal", regexp.MustCompile(`(?i)password\s*=\s*['"][^'"]{4,}['"]`)},
}

// Scanner detects secrets and PII in message content.
//
// Secret findings are deduplicated by exact matched value for the lifetime
// of the Scanner: a token flagged once is never flagged again, so repeated
// ingestion of overlapping transcripts does not re-report the same leak.
// PII findings are reported on every occurrence. Construct a fresh Scanner
// to reset dedup state.
type Scanner struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger *zap.Logger
}

// NewScanner creates a Scanner with empty dedup state.
func NewScanner(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// Scan runs the secret and PII rule tables over each message's content in
// message order and returns findings in detection order.
func (s *Scanner) Scan(messages []platform.Message) []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	var findings []Finding
	for i, msg := range messages {
		location := fmt.Sprintf("message_%d (%s)", i, msg.Role)

		for _, r := range secretRules {
			for _, match := range r.pattern.FindAllString(msg.Content, -1) {
				if _, dup := s.seen[match]; dup {
					continue
				}
				s.seen[match] = struct{}{}
				findings = append(findings, Finding{
					Level:       LevelCritical,
					Type:        TypeSecret,
					Description: r.name + " detected",
					Location:    location,
					Remediation: secretRemediation,
				})
			}
		}

		for _, r := range piiRules {
			if r.pattern.MatchString(msg.Content) {
				findings = append(findings, Finding{
					Level:       LevelHigh,
					Type:        TypePII,
					Description: r.name + " detected",
					Location:    location,
					Remediation: piiRemediation,
				})
			}
		}
	}

	if len(findings) > 0 {
		s.logger.Info("security scan flagged content",
			zap.Int("findings", len(findings)),
			zap.Int("messages", len(messages)))
	}
	return findings
}
