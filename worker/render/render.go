package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"scaffold/api/model"
	"scaffold/worker/plugins"
)

// Module is one generated source file.
type Module struct {
	Path string `json:"path"`
	Code string `json:"code"`
}

// Renderer turns a resource snapshot into source modules.
type Renderer interface {
	Render(ctx context.Context, data *model.DSGResourceData, installed []plugins.Plugin) ([]Module, error)
}

var funcs = template.FuncMap{
	"kebab":  Kebab,
	"pascal": Pascal,
	"camel":  Camel,
	"lower":  strings.ToLower,
	"join":   strings.Join,
}

// Templates renders the built-in service skeleton plus every template the
// installed plugins contribute.
type Templates struct{}

// builtin maps output paths to templates. Paths are templates too; "entity"
// templates are rendered once per entity with the entity as dot.
var builtin = []struct {
	path      string
	text      string
	perEntity bool
}{
	{path: "README.md", text: readmeTemplate},
	{path: "server/src/{{kebab .Name}}/{{kebab .Name}}.model.ts", text: entityTemplate, perEntity: true},
	{path: "server/src/roles.ts", text: rolesTemplate},
}

func (Templates) Render(ctx context.Context, data *model.DSGResourceData, installed []plugins.Plugin) ([]Module, error) {
	var out []Module
	for _, b := range builtin {
		if b.perEntity {
			for _, e := range data.Entities {
				m, err := RenderModule(b.path, b.text, e)
				if err != nil {
					return nil, err
				}
				out = append(out, m)
			}
			continue
		}
		m, err := RenderModule(b.path, b.text, data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	for _, p := range installed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Manifest == nil {
			continue
		}
		paths := make([]string, 0, len(p.Manifest.Templates))
		for k := range p.Manifest.Templates {
			paths = append(paths, k)
		}
		sort.Strings(paths)
		for _, pth := range paths {
			m, err := RenderModule(pth, p.Manifest.Templates[pth], data)
			if err != nil {
				return nil, fmt.Errorf("plugin %s: %w", p.PluginID, err)
			}
			out = append(out, m)
		}
	}

	out = append(out, manifestModule(data, installed))
	return out, nil
}

// RenderModule renders one module. The path is a template as well; both are
// executed with dot, which is usually the resource data or a placeholder map.
func RenderModule(pathTemplate, text string, dot interface{}) (Module, error) {
	p, err := execute("path", pathTemplate, dot)
	if err != nil {
		return Module{}, err
	}
	p = path.Clean(strings.TrimSpace(p))
	if p == "." || path.IsAbs(p) || strings.HasPrefix(p, "../") {
		return Module{}, fmt.Errorf("template %q renders invalid path %q", pathTemplate, p)
	}
	code, err := execute(p, text, dot)
	if err != nil {
		return Module{}, err
	}
	return Module{Path: p, Code: code}, nil
}

func execute(name, text string, dot interface{}) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, dot); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// manifestModule records what the service was generated from.
func manifestModule(data *model.DSGResourceData, installed []plugins.Plugin) Module {
	type pluginRef struct {
		ID      string `json:"id"`
		NPM     string `json:"npm"`
		Version string `json:"version,omitempty"`
	}
	refs := make([]pluginRef, 0, len(installed))
	for _, p := range installed {
		refs = append(refs, pluginRef{ID: p.PluginID, NPM: p.NPM, Version: p.Version})
	}
	entities := make([]string, 0, len(data.Entities))
	for _, e := range data.Entities {
		entities = append(entities, e.Name)
	}
	b, _ := json.MarshalIndent(map[string]interface{}{
		"resource": data.ResourceInfo.Name,
		"version":  data.ResourceInfo.Version,
		"entities": entities,
		"plugins":  refs,
	}, "", "  ")
	return Module{Path: ".scaffold/manifest.json", Code: string(b) + "\n"}
}

func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = nil
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		switch {
		case r == '-' || r == '_' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return out
}

// Kebab converts "OrderItem" to "order-item".
func Kebab(s string) string {
	w := words(s)
	for i := range w {
		w[i] = strings.ToLower(w[i])
	}
	return strings.Join(w, "-")
}

// Pascal converts "order-item" to "OrderItem".
func Pascal(s string) string {
	w := words(s)
	for i := range w {
		r := []rune(strings.ToLower(w[i]))
		r[0] = unicode.ToUpper(r[0])
		w[i] = string(r)
	}
	return strings.Join(w, "")
}

// Camel converts "order-item" to "orderItem".
func Camel(s string) string {
	p := []rune(Pascal(s))
	if len(p) == 0 {
		return ""
	}
	p[0] = unicode.ToLower(p[0])
	return string(p)
}

const readmeTemplate = `# {{.ResourceInfo.Name}}

{{if .ResourceInfo.Description}}{{.ResourceInfo.Description}}

{{end}}Generated version {{.ResourceInfo.Version}}.

## Entities
{{range .Entities}}
- {{if .DisplayName}}{{.DisplayName}}{{else}}{{.Name}}{{end}}{{end}}
`

const entityTemplate = `export interface {{pascal .Name}} {
  id: string;
{{- range .Fields}}
  {{camel .Name}}{{if not .Required}}?{{end}}: {{.DataType}};
{{- end}}
}
`

const rolesTemplate = `export const roles = [
{{- range .Roles}}
  "{{.Name}}",
{{- end}}
];
`
