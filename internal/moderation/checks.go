package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Check names.
const (
	CheckSpam      = "spam"
	CheckLinks     = "links"
	CheckOffensive = "offensive"
	CheckGeneric   = "generic"
	CheckPolicy    = "policy"
)

// Violation types.
const (
	TypeSpam            = "spam"
	TypeOffensive       = "offensive"
	TypePlagiarism      = "plagiarism"
	TypePolicyViolation = "policy_violation"
	TypeSystemError     = "system_error"
)

const (
	maxLinks             = 3
	minDescriptionLength = 20
	repeatedCharRun      = 10
	repeatedWordRun      = 3
	repeatedWordLead     = 4
)

var (
	wordPattern      = regexp.MustCompile(`\w+`)
	shoutingPattern  = regexp.MustCompile(`[A-Z]{10,}`)
	marketingPattern = regexp.MustCompile(`(?i)click here|buy now|limited offer`)
	baitPattern      = regexp.MustCompile(`(?i)\$+|\d+[KMB]? followers`)
	linkPattern      = regexp.MustCompile(`https?://`)

	offensivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)hate|kill|die|death`),
		regexp.MustCompile(`(?i)racist|discrimination`),
	}

	prohibitedPhrases = []string{"real club", "real team", "real money"}
)

// DefaultChecks returns the built-in rule set.
func DefaultChecks() []Check {
	return []Check{
		CheckFunc{CheckName: CheckSpam, Fn: checkSpam},
		CheckFunc{CheckName: CheckLinks, Fn: checkLinks},
		CheckFunc{CheckName: CheckOffensive, Fn: checkOffensive},
		CheckFunc{CheckName: CheckGeneric, Fn: checkGeneric},
		CheckFunc{CheckName: CheckPolicy, Fn: checkPolicy},
	}
}

func spam(desc string) Violation {
	return Violation{Type: TypeSpam, Severity: SeverityMedium, Description: desc}
}

func checkSpam(_ context.Context, c Content) ([]Violation, error) {
	text := c.Text()
	var out []Violation
	if hasRepeatedWords(text) {
		out = append(out, spam("Repeated words"))
	}
	if shoutingPattern.MatchString(text) {
		out = append(out, spam("Excessive capital letters"))
	}
	if hasRepeatedChars(text) {
		out = append(out, spam("Character repetition"))
	}
	if marketingPattern.MatchString(text) {
		out = append(out, spam("Marketing phrase"))
	}
	if baitPattern.MatchString(text) {
		out = append(out, spam("Follower or money bait"))
	}
	return out, nil
}

// hasRepeatedWords reports a word repeated three times in a row after at
// least four other words.
func hasRepeatedWords(text string) bool {
	words := wordPattern.FindAllString(text, -1)
	for i := repeatedWordLead; i+repeatedWordRun <= len(words); i++ {
		run := 1
		for j := i + 1; j < len(words) && words[j] == words[i]; j++ {
			run++
		}
		if run >= repeatedWordRun {
			return true
		}
	}
	return false
}

// hasRepeatedChars reports ten or more identical characters in a row.
func hasRepeatedChars(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == '\n' {
			run = 0
			continue
		}
		if run > 0 && r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= repeatedCharRun {
			return true
		}
	}
	return false
}

// LinkCount is the larger of the declared link count and the number of
// URLs found in the description.
func LinkCount(c Content) int {
	return max(c.LinkCount, len(linkPattern.FindAllStringIndex(c.Description, -1)))
}

func checkLinks(_ context.Context, c Content) ([]Violation, error) {
	n := LinkCount(c)
	if n <= maxLinks {
		return nil, nil
	}
	return []Violation{{
		Type:        TypeSpam,
		Severity:    SeverityLow,
		Description: fmt.Sprintf("Too many links (%d)", n),
	}}, nil
}

func checkOffensive(_ context.Context, c Content) ([]Violation, error) {
	text := c.Text()
	var out []Violation
	for _, p := range offensivePatterns {
		if p.MatchString(text) {
			out = append(out, Violation{
				Type:        TypeOffensive,
				Severity:    SeverityHigh,
				Description: "Potentially offensive language detected",
			})
		}
	}
	return out, nil
}

func checkGeneric(_ context.Context, c Content) ([]Violation, error) {
	if utf8.RuneCountInString(c.Description) >= minDescriptionLength {
		return nil, nil
	}
	return []Violation{{
		Type:        TypePlagiarism,
		Severity:    SeverityLow,
		Description: "Content description is too generic",
	}}, nil
}

func checkPolicy(_ context.Context, c Content) ([]Violation, error) {
	text := strings.ToLower(c.Text())
	var out []Violation
	for _, phrase := range prohibitedPhrases {
		if strings.Contains(text, phrase) {
			out = append(out, Violation{
				Type:        TypePolicyViolation,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("Prohibited content: %q", phrase),
			})
		}
	}
	return out, nil
}
