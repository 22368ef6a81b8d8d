package sandbox

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dscybers/phishshield/internal/entity"
)

// Risk indicator messages produced by page inspection
const (
	IndicatorSensitiveForm = "Form collecting sensitive information detected"
	IndicatorExternalForm  = "Form submits to external domain"
	IndicatorObfuscatedJS  = "Obfuscated JavaScript code detected"
	IndicatorKeylogger     = "Potential keylogger behavior detected"
	IndicatorSecurityBadge = "Security badge images detected"
)

var (
	keyloggerPatterns   = []string{"keydown", "keypress", "onkeydown"}
	obfuscationPatterns = []string{"eval(", "unescape(", "String.fromCharCode"}
	suspiciousFunctions = []string{"document.write(", "innerHTML", "createElement(", "appendChild(", "location.href", "window.open("}
	urgencyWords        = []string{"urgent", "immediate", "suspend", "expired", "verify now", "act now"}
)

var impersonatedBrands = []struct {
	name   string
	label  string
	domain string
}{
	{"PayPal", "paypal", "paypal.com"},
	{"Amazon", "amazon", "amazon.com"},
	{"Google", "google", "google.com"},
}

// Inspection is what static inspection of a rendered page found
type Inspection struct {
	Forms          []entity.FormDescriptor
	JSBehavior     entity.JSBehavior
	RiskIndicators []string
}

// InspectHTML parses the rendered DOM of pageURL and extracts forms, script
// behavior and phishing indicators
func InspectHTML(pageURL, html string) (*Inspection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	ins := &Inspection{
		Forms: []entity.FormDescriptor{},
		JSBehavior: entity.JSBehavior{
			SuspiciousFunctions: []string{},
			ExternalScripts:     []string{},
		},
		RiskIndicators: []string{},
	}

	ins.extractForms(doc, base)
	ins.extractScripts(doc, base)
	ins.checkPhishingIndicators(doc)

	return ins, nil
}

func (ins *Inspection) addIndicator(indicator string) {
	for _, existing := range ins.RiskIndicators {
		if existing == indicator {
			return
		}
	}
	ins.RiskIndicators = append(ins.RiskIndicators, indicator)
}

func (ins *Inspection) extractForms(doc *goquery.Document, base *url.URL) {
	doc.Find("form").Each(func(_ int, formSel *goquery.Selection) {
		method := strings.ToUpper(strings.TrimSpace(formSel.AttrOr("method", "")))
		if method == "" {
			method = "GET"
		}

		form := entity.FormDescriptor{
			Action: resolve(base, formSel.AttrOr("action", "")),
			Method: method,
			Fields: []entity.FormField{},
		}

		formSel.Find("input").Each(func(_ int, inputSel *goquery.Selection) {
			inputType := strings.ToLower(inputSel.AttrOr("type", ""))
			if inputType == "" {
				inputType = "text"
			}
			_, required := inputSel.Attr("required")
			form.Fields = append(form.Fields, entity.FormField{
				Type:        inputType,
				Name:        inputSel.AttrOr("name", ""),
				Placeholder: inputSel.AttrOr("placeholder", ""),
				Required:    required,
			})
		})

		if form.CollectsSensitiveData() {
			ins.addIndicator(IndicatorSensitiveForm)
		}
		if base != nil && form.Action != "" {
			if action, err := url.Parse(form.Action); err == nil && action.Host != "" && !strings.EqualFold(action.Hostname(), base.Hostname()) {
				ins.addIndicator(IndicatorExternalForm)
			}
		}

		ins.Forms = append(ins.Forms, form)
	})
}

func (ins *Inspection) extractScripts(doc *goquery.Document, base *url.URL) {
	seen := make(map[string]bool)

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			ins.JSBehavior.ExternalScripts = append(ins.JSBehavior.ExternalScripts, resolve(base, src))
		}

		content := s.Text()
		if content == "" {
			return
		}

		obfuscated, keylogger, funcs := AnalyzeScript(content)
		ins.JSBehavior.Obfuscated = ins.JSBehavior.Obfuscated || obfuscated
		ins.JSBehavior.Keylogger = ins.JSBehavior.Keylogger || keylogger
		for _, f := range funcs {
			if !seen[f] {
				seen[f] = true
				ins.JSBehavior.SuspiciousFunctions = append(ins.JSBehavior.SuspiciousFunctions, f)
			}
		}
	})

	// Inline key handlers count the same as script listeners
	if doc.Find("[onkeydown], [onkeypress]").Length() > 0 {
		ins.JSBehavior.Keylogger = true
	}

	if ins.JSBehavior.Obfuscated {
		ins.addIndicator(IndicatorObfuscatedJS)
	}
	if ins.JSBehavior.Keylogger {
		ins.addIndicator(IndicatorKeylogger)
	}
}

// AnalyzeScript applies the obfuscation, keylogger and suspicious-call
// patterns to one script body
func AnalyzeScript(content string) (obfuscated, keylogger bool, funcs []string) {
	for _, p := range obfuscationPatterns {
		if strings.Contains(content, p) {
			obfuscated = true
			break
		}
	}
	// Long packed payloads on very few lines
	if len(content) > 1000 && len(strings.Split(content, "\n")) < 10 {
		obfuscated = true
	}

	for _, p := range keyloggerPatterns {
		if strings.Contains(content, p) {
			keylogger = true
			break
		}
	}

	for _, p := range suspiciousFunctions {
		if strings.Contains(content, p) {
			funcs = append(funcs, p)
		}
	}
	return obfuscated, keylogger, funcs
}

func (ins *Inspection) checkPhishingIndicators(doc *goquery.Document) {
	if doc.Find(`img[src*="secure"], img[src*="ssl"], img[src*="verified"]`).Length() > 0 {
		ins.addIndicator(IndicatorSecurityBadge)
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, word := range urgencyWords {
		if strings.Contains(text, word) {
			ins.addIndicator("Urgency language detected: " + word)
		}
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.ToLower(a.AttrOr("href", ""))
		label := strings.ToLower(a.Text())
		for _, b := range impersonatedBrands {
			if strings.Contains(label, b.label) && !strings.Contains(href, b.domain) {
				ins.addIndicator("Misleading " + b.name + " link detected")
			}
		}
	})
}

// resolve makes ref absolute against base; an empty form action posts back
// to the page itself
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil {
		return ref
	}
	if ref == "" {
		return base.String()
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
