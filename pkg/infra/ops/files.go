package ops

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/kubengine/kubengine/pkg/types"
)

// Put copies a local file to the bound host.
type Put struct {
	OpName string
	// Src is the local source file
	Src string
	// Dest is the destination path on the host
	Dest string
	// Mode is the octal file mode, defaults to 0644
	Mode string
}

// Name implements types.Operation.
func (p *Put) Name() string { return p.OpName }

// Apply implements types.Operation.
func (p *Put) Apply(n types.Node) *types.OperationOutcome {
	out := &types.OperationOutcome{Name: p.OpName}
	f, err := os.Open(p.Src)
	if err != nil {
		out.Error = fmt.Sprintf("failed to open %q: %s", p.Src, err)
		return out
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		out.Error = fmt.Sprintf("failed to stat %q: %s", p.Src, err)
		return out
	}
	if err := n.WriteFile(f, p.Dest, p.mode(), info.Size()); err != nil {
		out.Error = fmt.Sprintf("failed to write %q: %s", p.Dest, err)
		return out
	}
	out.Success = true
	out.Changed = true
	out.Output = []string{fmt.Sprintf("wrote %s (%d bytes)", p.Dest, info.Size())}
	return out
}

func (p *Put) mode() string {
	if p.Mode == "" {
		return "0644"
	}
	return p.Mode
}

// Template renders a template with sprig functions and writes the result
// to the bound host.
type Template struct {
	OpName string
	// Content is the inline template text. When empty, Src names a local
	// template file instead.
	Content string
	Src     string
	Dest    string
	Mode    string
	// Data is the template context
	Data interface{}
}

// Name implements types.Operation.
func (t *Template) Name() string { return t.OpName }

// Apply implements types.Operation.
func (t *Template) Apply(n types.Node) *types.OperationOutcome {
	out := &types.OperationOutcome{Name: t.OpName}
	text := t.Content
	if text == "" {
		raw, err := os.ReadFile(t.Src)
		if err != nil {
			out.Error = fmt.Sprintf("failed to read template %q: %s", t.Src, err)
			return out
		}
		text = string(raw)
	}
	tmpl, err := template.New(t.OpName).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		out.Error = fmt.Sprintf("failed to parse template: %s", err)
		return out
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, t.Data); err != nil {
		out.Error = fmt.Sprintf("failed to render template: %s", err)
		return out
	}
	mode := t.Mode
	if mode == "" {
		mode = "0644"
	}
	size := int64(buf.Len())
	if err := n.WriteFile(io.NopCloser(&buf), t.Dest, mode, size); err != nil {
		out.Error = fmt.Sprintf("failed to write %q: %s", t.Dest, err)
		return out
	}
	out.Success = true
	out.Changed = true
	out.Output = []string{fmt.Sprintf("rendered %s (%d bytes)", t.Dest, size)}
	return out
}

// Directory ensures a directory exists on the bound host.
type Directory struct {
	OpName string
	Path   string
	// CheckFirst probes for the directory and reports Changed only when
	// it had to be created.
	CheckFirst bool
}

// Name implements types.Operation.
func (d *Directory) Name() string { return d.OpName }

// Apply implements types.Operation.
func (d *Directory) Apply(n types.Node) *types.OperationOutcome {
	out := &types.OperationOutcome{Name: d.OpName}
	if d.CheckFirst && runCheck(n, fmt.Sprintf("test -d %s", d.Path)) {
		out.Success = true
		return out
	}
	if err := n.MkdirAll(d.Path); err != nil {
		out.Error = fmt.Sprintf("failed to create %q: %s", d.Path, err)
		return out
	}
	out.Success = true
	out.Changed = true
	return out
}

// Link ensures a symlink on the bound host.
type Link struct {
	OpName string
	Path   string
	Target string
	// CheckFirst probes the current link target and reports Changed only
	// when it had to be rewritten.
	CheckFirst bool
}

// Name implements types.Operation.
func (l *Link) Name() string { return l.OpName }

// Apply implements types.Operation.
func (l *Link) Apply(n types.Node) *types.OperationOutcome {
	out := &types.OperationOutcome{Name: l.OpName}
	if l.CheckFirst && runCheck(n, fmt.Sprintf(`test "$(readlink %s)" = %q`, l.Path, l.Target)) {
		out.Success = true
		return out
	}
	res, err := n.Execute(&types.ExecuteOptions{
		Command: fmt.Sprintf("mkdir -p $(dirname %s) && ln -sfn %s %s", l.Path, l.Target, l.Path),
	})
	if err != nil {
		out.Error = fmt.Sprintf("failed to link %q: %s", l.Path, err)
		return out
	}
	if res.Failed() {
		out.Error = fmt.Sprintf("failed to link %q: exit %d", l.Path, res.ExitStatus)
		out.Output = res.Stderr
		return out
	}
	out.Success = true
	out.Changed = true
	return out
}
