package feeds

import (
	"bufio"
	"net"
	"strings"
)

// Parser handles parsing of different feed formats
type Parser struct{}

// NewParser creates a new feed parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the normalized entries of content
func (p *Parser) Parse(content string, format FeedFormat) []string {
	switch format {
	case FormatURLList:
		return p.parseLines(content, normalizeURLEntry)
	case FormatHostsFile:
		return p.parseLines(content, hostsEntry)
	case FormatDomainList:
		return p.parseLines(content, domainEntry)
	default:
		return p.parseLines(content, normalizeURLEntry)
	}
}

// parseLines skips blanks and comments and maps every remaining line
func (p *Parser) parseLines(content string, extract func(string) string) []string {
	var results []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		entry := extract(line)
		if entry == "" || seen[entry] {
			continue
		}
		seen[entry] = true
		results = append(results, entry)
	}

	return results
}

// normalizeURLEntry keeps URLs as published, minus a trailing slash
func normalizeURLEntry(line string) string {
	return NormalizeURL(line)
}

// NormalizeURL is the form URL feeds are keyed by
func NormalizeURL(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), "/")
}

// hostsEntry extracts the domain from "127.0.0.1 domain # comment"
func hostsEntry(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return domainEntry(fields[0])
	}
	if net.ParseIP(fields[0]) == nil {
		return ""
	}
	return domainEntry(fields[1])
}

// domainEntry lowercases a domain and rejects placeholders
func domainEntry(line string) string {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(line), "."))
	if d == "" || d == "localhost" || !strings.Contains(d, ".") {
		return ""
	}
	return d
}
