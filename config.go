package main

import (
	"bufio"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Options holds every setting twodrive runs with, loadable from an
// optional ini file and overridable by CLI flags. Field tags follow
// the teacher's own config.go convention (`ini` name, `default` value,
// `description` for the generated template).
type Options struct {
	PeerList       []string      `ini:"peers" description:"Comma-separated list of peer IP addresses to connect to (the well-known port is used)"`
	Encryption     bool          `ini:"encryption" default:"false" description:"Encrypt traffic to peers with AES-256"`
	Compression    bool          `ini:"compression" default:"true" description:"Gzip-compress BLOCK payloads on the wire"`
	ScanInterval   time.Duration `ini:"scan-interval" default:"1s" description:"How often to rescan the share directory for new files"`
	ModifyInterval time.Duration `ini:"modify-check-interval" default:"1s" description:"How often each tracked file is checked for local modification"`
	MaxSendKBps    int           `ini:"max-send-kbps" default:"0" description:"Limit outgoing data rate per peer (kbyte/s), 0 for unlimited"`
	ShareDir       string        `ini:"share-dir" default:"./share/" description:"Directory synchronized with peers"`
	TempDir        string        `ini:"temp-dir" default:"./temp/" description:"Directory for file metadata and in-flight downloads"`
}

func loadConfig(m map[string]string, data interface{}) error {
	s := reflect.ValueOf(data).Elem()
	t := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		tag := t.Field(i).Tag

		name := tag.Get("ini")
		if len(name) == 0 {
			name = strings.ToLower(t.Field(i).Name)
		}

		v, ok := m[name]
		if !ok {
			v = tag.Get("default")
		}
		if len(v) > 0 {
			switch f.Interface().(type) {
			case time.Duration:
				d, err := time.ParseDuration(v)
				if err != nil {
					return err
				}
				f.SetInt(int64(d))

			case string:
				f.SetString(v)

			case []string:
				var items []string
				for _, p := range strings.Split(v, ",") {
					if p = strings.TrimSpace(p); p != "" {
						items = append(items, p)
					}
				}
				f.Set(reflect.ValueOf(items))

			case int:
				i, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return err
				}
				f.SetInt(i)

			case bool:
				f.SetBool(v == "true")

			default:
				panic(f.Type())
			}
		}
	}
	return nil
}

type cfg struct {
	Key     string
	Value   string
	Comment string
}

func structToValues(data interface{}) []cfg {
	s := reflect.ValueOf(data).Elem()
	t := s.Type()

	var vals []cfg
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		tag := t.Field(i).Tag

		var c cfg
		c.Key = tag.Get("ini")
		if len(c.Key) == 0 {
			c.Key = strings.ToLower(t.Field(i).Name)
		}
		if items, ok := f.Interface().([]string); ok {
			c.Value = strings.Join(items, ",")
		} else {
			c.Value = fmt.Sprint(f.Interface())
		}
		c.Comment = tag.Get("description")
		vals = append(vals, c)
	}
	return vals
}

var configTemplateStr = `[settings]
{{range $v := .settings}}; {{$v.Comment}}
{{$v.Key}} = {{$v.Value}}
{{end}}`

var configTemplate = template.Must(template.New("config").Parse(configTemplateStr))

// writeConfig renders opts as a twodrive.ini file, e.g. to seed a
// fresh config directory on first run.
func writeConfig(wr io.Writer, opts Options) {
	configTemplate.Execute(wr, map[string]interface{}{
		"settings": structToValues(&opts),
	})
}

// readIni parses the simple `key = value` pairs of a twodrive.ini
// file under a single [settings] section; blank lines, `;` comments,
// and the `[settings]` header itself are ignored.
func readIni(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		m[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return m, scanner.Err()
}
