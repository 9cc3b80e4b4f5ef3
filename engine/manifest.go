package engine

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
	sprig "github.com/go-task/slim-sprig/v3"
)

var templates = template.Must(template.New("engine").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
	"shellquote": shellescape.Quote,
	"puppetquote": func(s string) string {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
	},
}).Parse(`
{{- define "shell_script" -}}
#!/bin/bash
{{ .Cmd }}
{{ end -}}

{{- define "shell_manifest" -}}
notice({{ printf "MODULAR: %s" .Task | puppetquote }})

exec { {{ printf "%s_shell" .Task | puppetquote }}:
  command   => {{ printf "/bin/bash %s" (shellquote .Script) | puppetquote }},
  logoutput => true,
  tries     => {{ .Tries }},
  try_sleep => {{ .Interval }},
  cwd       => {{ .Cwd | puppetquote }},
  timeout   => {{ .Timeout }},
}
{{ end -}}

{{- define "rsync" -}}
rsync -c -r --delete {{ range .Options }}{{ shellquote . }} {{ end }}{{ shellquote .Src }} {{ shellquote .Dst }}
{{- end -}}
`))

type shellManifest struct {
	Task     string
	Cmd      string
	Script   string
	Cwd      string
	Tries    int
	Interval int
	Timeout  int
}

type rsyncCommand struct {
	Src     string
	Dst     string
	Options []string
}

func render(name string, data any) (string, error) {
	var output strings.Builder
	if err := templates.ExecuteTemplate(&output, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return output.String(), nil
}
