package report

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/cover"

	"github.com/covstack/covrun/internal/coverage"
)

type htmlFile struct {
	Name    string
	Percent float64
	Body    template.HTML
}

type htmlData struct {
	Total float64
	Files []htmlFile
}

// FindSource locates the on-disk source for a profile file name. The
// profile records import-path-qualified names, so leading path
// elements are stripped until a file under baseDir matches.
func FindSource(baseDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("source file %s not found", name)
	}

	parts := strings.Split(name, "/")
	for i := 0; i < len(parts); i++ {
		candidate := filepath.Join(baseDir, filepath.Join(parts[i:]...))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("source file %s not found under %s", name, baseDir)
}

// WriteHTML renders the annotated-source coverage report. Files whose
// source cannot be located are skipped with a warning; the report is
// best-effort per file once the test run has already passed.
func WriteHTML(w io.Writer, baseDir string, s *coverage.Summary, profiles []*cover.Profile, logger *slog.Logger) error {
	percents := make(map[string]float64, len(s.Files))
	for _, f := range s.Files {
		percents[f.Name] = f.Percent()
	}

	data := htmlData{Total: s.Percent()}
	for _, p := range profiles {
		path, err := FindSource(baseDir, p.FileName)
		if err != nil {
			logger.Warn("skipping file in HTML report", "file", p.FileName, "error", err)
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file in HTML report", "file", path, "error", err)
			continue
		}
		data.Files = append(data.Files, htmlFile{
			Name:    p.FileName,
			Percent: percents[p.FileName],
			Body:    annotate(src, p),
		})
	}

	return reportTemplate.Execute(w, data)
}

// annotate wraps source regions in spans keyed by execution intensity,
// cov0 for never executed through cov10 for the hottest blocks.
func annotate(src []byte, p *cover.Profile) template.HTML {
	var buf bytes.Buffer
	boundaries := p.Boundaries(src)
	offset := 0
	for _, b := range boundaries {
		if b.Offset > offset {
			buf.WriteString(html.EscapeString(string(src[offset:b.Offset])))
			offset = b.Offset
		}
		if b.Start {
			n := 0
			if b.Count > 0 {
				n = int(math.Floor(b.Norm*9)) + 1
			}
			fmt.Fprintf(&buf, `<span class="cov%d" title="%d">`, n, b.Count)
		} else {
			buf.WriteString("</span>")
		}
	}
	buf.WriteString(html.EscapeString(string(src[offset:])))
	return template.HTML(buf.String())
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>covrun coverage report</title>
<style>
body { background: #1e1e1e; color: #d4d4d4; font-family: sans-serif; margin: 0; }
#topbar { background: #2d2d2d; padding: 10px; position: sticky; top: 0; }
#content { padding: 10px; }
pre { font-family: Menlo, monospace; font-size: 13px; }
.file { display: none; }
.file.visible { display: block; }
.cov0 { color: rgb(192, 0, 0); }
.cov1 { color: rgb(128, 128, 128); }
.cov2 { color: rgb(116, 140, 131); }
.cov3 { color: rgb(104, 152, 134); }
.cov4 { color: rgb(92, 164, 137); }
.cov5 { color: rgb(80, 176, 140); }
.cov6 { color: rgb(68, 188, 143); }
.cov7 { color: rgb(56, 200, 146); }
.cov8 { color: rgb(44, 212, 149); }
.cov9 { color: rgb(32, 224, 152); }
.cov10 { color: rgb(20, 236, 155); }
</style>
</head>
<body>
<div id="topbar">
	<select id="fileSelect">
	{{range $i, $f := .Files}}<option value="file{{$i}}">{{$f.Name}} ({{printf "%.1f" $f.Percent}}%)</option>
	{{end}}</select>
	<span>total: {{printf "%.1f" .Total}}%</span>
</div>
<div id="content">
{{range $i, $f := .Files}}<pre class="file{{if eq $i 0}} visible{{end}}" id="file{{$i}}">{{$f.Body}}</pre>
{{end}}</div>
<script>
var sel = document.getElementById('fileSelect');
sel.addEventListener('change', function() {
	var files = document.querySelectorAll('.file');
	for (var i = 0; i < files.length; i++) {
		files[i].classList.toggle('visible', files[i].id === sel.value);
	}
});
</script>
</body>
</html>
`))
