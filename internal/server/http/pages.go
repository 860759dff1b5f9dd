package httpserver

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/model"
)

var consentTmpl = template.Must(template.New("consent").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Authorize {{.Client.Name}}</title></head>
<body>
<h1>{{.Client.Name}}</h1>
{{if .Client.LogoURL}}<img src="{{.Client.LogoURL}}" alt="" width="64">{{end}}
<p>{{.Client.Description}}</p>
<p><strong>{{.Client.Name}}</strong> is requesting access to:</p>
<ul>
{{range .Scopes}}<li>{{.}}</li>{{else}}<li>your basic profile</li>{{end}}
</ul>
<form method="post" action="/oauth/authorize">
<input type="hidden" name="request" value="{{.Continuation}}">
<button type="submit" name="decision" value="approve">Allow</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>
`))

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
<form method="post" action="/auth/login">
<input type="hidden" name="next" value="{{.Next}}">
<label>Username <input name="username" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
<p>Or continue with:</p>
<ul>
{{range .Providers}}<li><a href="/oauth/login/{{.}}?next={{$.Next}}">{{.}}</a></li>{{end}}
</ul>
</body>
</html>
`))

func (s *Server) renderConsent(c *gin.Context, client *model.Client, req model.AuthRequest, continuation string) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := consentTmpl.Execute(c.Writer, gin.H{
		"Client":       client,
		"Scopes":       model.SplitScope(req.Scope),
		"Continuation": continuation,
	})
	if err != nil {
		s.log.Error("render consent", zap.Error(err))
	}
}

func (s *Server) renderLogin(c *gin.Context, next string) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := loginTmpl.Execute(c.Writer, gin.H{
		"Next":      next,
		"Providers": s.identity.Providers(),
	})
	if err != nil {
		s.log.Error("render login", zap.Error(err))
	}
}
