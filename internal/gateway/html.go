package gateway

import (
	"fmt"
	"html"
	"net/http"
)

// errorPageTemplate is the gateway-owned error surface for page routes.
// Backend error pages are never forwarded; browsers only ever see this.
const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%d %s</title>
<style>
body{font-family:system-ui,sans-serif;margin:0;display:flex;min-height:100vh;align-items:center;justify-content:center;background:#f6f7f9;color:#1f2430}
main{text-align:center;padding:2rem}
h1{font-size:3rem;margin:0 0 .5rem}
p{margin:.25rem 0;color:#5a6270}
code{font-size:.8rem;color:#8a93a3}
</style>
</head>
<body>
<main>
<h1>%d</h1>
<p>%s</p>
<p><code>ref %s</code></p>
</main>
</body>
</html>
`

// renderErrorPage renders the error page. message and corrID are
// escaped; nothing request-derived reaches the page unescaped.
func renderErrorPage(status int, message, corrID string) []byte {
	title := http.StatusText(status)
	if title == "" {
		title = "Error"
	}
	return []byte(fmt.Sprintf(errorPageTemplate,
		status, html.EscapeString(title),
		status,
		html.EscapeString(message),
		html.EscapeString(corrID),
	))
}
