package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
)

// certificateTemplate renders a CertificateView as an HTML fragment.
// html/template's contextual auto-escaping is what satisfies spec §8
// scenario 6: a reason or identity name containing markup is escaped to
// inert text, never interpreted as a live tag, the same guarantee any
// html/template-based renderer gets for free — this package only needs to
// feed it untrusted strings through {{.}}, not text/template.
var certificateTemplate = template.Must(template.New("certificate").Parse(`<div class="certificate">
  <p class="reason">{{.ReasonText}}</p>
  <p class="identity">{{if .IdentityFound}}{{.Identity.Name}} ({{.Identity.Method}}){{else}}unattributed{{end}}</p>
  <p class="credit-type">{{.CreditType}}</p>
  <p class="quantity">{{.RetiredQuantity}}</p>
  <p class="tx-hash">{{.TxHash}}</p>
</div>`))

// RenderHTML renders v as the HTML fragment a certificate page embeds.
// This is a projection helper, not the page renderer itself — spec §1
// treats the full certificate page as an external template collaborator;
// this is the one piece of that rendering this repo owns, because it's
// the piece responsible for safely reintroducing user-supplied text.
func (v *CertificateView) RenderHTML() (template.HTML, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("dashboard: failed to render certificate html: %w", err)
	}
	return template.HTML(buf.String()), nil
}
