package bounce

import (
	"strconv"
	"strings"
)

// maxDirectiveScan limits how far into the prompt we scan for directives.
const maxDirectiveScan = 2048

// directivePrefix is the in-band marker callers embed in prompt text.
const directivePrefix = "@@wallbounce"

// directiveEnd is the closing marker for block-style directives.
const directiveEnd = "@@end"

// ApplyDirectives scans the head of the prompt for @@wallbounce directives,
// applies any overrides to p, and strips the directive text so providers
// never see it. It returns the keys that were applied.
//
// Single-line format: @@wallbounce key=value key=value ...
// Block format:
//
//	@@wallbounce
//	key=value
//	key=value
//	@@end
//
// Supported keys: tier, mode, depth, min_providers, max_providers,
// confidence_threshold. Unrecognized keys are ignored.
//
// Example: @@wallbounce tier=premium mode=sequential depth=4
func ApplyDirectives(p *Prompt) []string {
	content := p.Text
	scan := content
	if len(scan) > maxDirectiveScan {
		scan = scan[:maxDirectiveScan]
	}
	idx := strings.Index(scan, directivePrefix)
	if idx < 0 {
		return nil
	}

	rest := content[idx+len(directivePrefix):]
	firstLine := rest
	if nl := strings.IndexByte(firstLine, '\n'); nl >= 0 {
		firstLine = firstLine[:nl]
	}

	var applied []string
	if strings.TrimSpace(firstLine) == "" && strings.IndexByte(rest, '\n') >= 0 {
		// Block directive: parse lines between @@wallbounce and @@end.
		body := rest[strings.IndexByte(rest, '\n')+1:]
		endIdx := strings.Index(body, directiveEnd)
		if endIdx < 0 {
			// Malformed block (no @@end) - leave the prompt untouched.
			return nil
		}
		for _, line := range strings.Split(body[:endIdx], "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if key := applyDirectiveKV(p, line); key != "" {
				applied = append(applied, key)
			}
		}
		blockEnd := idx + len(directivePrefix) + strings.IndexByte(rest, '\n') + 1 + endIdx + len(directiveEnd)
		if blockEnd < len(content) && content[blockEnd] == '\n' {
			blockEnd++
		}
		p.Text = strings.TrimSpace(content[:idx] + content[blockEnd:])
		return applied
	}

	// Single-line directive.
	for _, part := range strings.Fields(strings.TrimSpace(firstLine)) {
		if key := applyDirectiveKV(p, part); key != "" {
			applied = append(applied, key)
		}
	}
	end := strings.IndexByte(content[idx:], '\n')
	if end >= 0 {
		p.Text = strings.TrimSpace(content[:idx] + content[idx+end+1:])
	} else {
		p.Text = strings.TrimSpace(content[:idx])
	}
	return applied
}

// applyDirectiveKV parses a single key=value token and applies it to the
// prompt. It returns the key when a value was applied.
func applyDirectiveKV(p *Prompt, token string) string {
	kv := strings.SplitN(token, "=", 2)
	if len(kv) != 2 {
		return ""
	}
	key, val := kv[0], kv[1]
	switch key {
	case "tier", "task_type":
		p.TaskTier = TaskTier(val)
	case "mode":
		p.Mode = Mode(val)
	case "depth":
		if i, err := strconv.Atoi(val); err == nil {
			p.Depth = i
		} else {
			return ""
		}
	case "min_providers":
		if i, err := strconv.Atoi(val); err == nil {
			p.MinProviders = i
		} else {
			return ""
		}
	case "max_providers":
		if i, err := strconv.Atoi(val); err == nil {
			p.MaxProviders = i
		} else {
			return ""
		}
	case "confidence_threshold":
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			p.ConfidenceThreshold = f
		} else {
			return ""
		}
	default:
		return ""
	}
	return key
}
