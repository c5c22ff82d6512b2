// Package provision loads gates, accounts, groups, credentials and grants
// from a YAML document and applies them idempotently.
package provision

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"openway.dev/internal/access"
)

var ErrInvalidDocument = errors.New("provision: invalid document")

type Document struct {
	Gates    []GateSpec    `yaml:"gates"`
	Groups   []GroupSpec   `yaml:"groups"`
	Accounts []AccountSpec `yaml:"accounts"`
	Grants   []GrantSpec   `yaml:"grants"`
}

type GateSpec struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

type GroupSpec struct {
	Name string `yaml:"name"`
}

type AccountSpec struct {
	Username string        `yaml:"username"`
	Active   *bool         `yaml:"active"`
	Password string        `yaml:"password"`
	Groups   []string      `yaml:"groups"`
	Devices  []DeviceSpec  `yaml:"devices"`
	Sessions []SessionSpec `yaml:"sessions"`
}

type DeviceSpec struct {
	Name            string `yaml:"name"`
	AndroidDeviceID string `yaml:"android_device_id"`
	Token           string `yaml:"token"`
	Active          *bool  `yaml:"active"`
}

type SessionSpec struct {
	Token  string `yaml:"token"`
	Active *bool  `yaml:"active"`
}

// GrantSpec targets an account, a group, or both by name.
type GrantSpec struct {
	Gate    string `yaml:"gate"`
	Account string `yaml:"account"`
	Group   string `yaml:"group"`
	Allow   *bool  `yaml:"allow"`
}

func enabled(b *bool) bool { return b == nil || *b }

// Parse decodes a document, rejecting unknown keys, and validates it.
func Parse(r io.Reader) (Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	doc.normalize()
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Load reads and parses a document from disk.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(bytes.NewReader(data))
}

func (d *Document) normalize() {
	for i := range d.Gates {
		d.Gates[i].Code = access.NormalizeGateCode(d.Gates[i].Code)
	}
	for i := range d.Groups {
		d.Groups[i].Name = strings.TrimSpace(d.Groups[i].Name)
	}
	for i := range d.Accounts {
		a := &d.Accounts[i]
		a.Username = strings.TrimSpace(a.Username)
		for j := range a.Groups {
			a.Groups[j] = strings.TrimSpace(a.Groups[j])
		}
		for j := range a.Devices {
			a.Devices[j].Token = strings.TrimSpace(a.Devices[j].Token)
		}
		for j := range a.Sessions {
			a.Sessions[j].Token = strings.TrimSpace(a.Sessions[j].Token)
		}
	}
	for i := range d.Grants {
		g := &d.Grants[i]
		g.Gate = access.NormalizeGateCode(g.Gate)
		g.Account = strings.TrimSpace(g.Account)
		g.Group = strings.TrimSpace(g.Group)
	}
}

// Validate checks names are unique and every reference resolves inside the
// document.
func (d Document) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	gates := map[string]bool{}
	for i, g := range d.Gates {
		switch {
		case g.Code == "":
			add("gates[%d]: code is required", i)
		case gates[g.Code]:
			add("gates[%d]: duplicate code %q", i, g.Code)
		}
		gates[g.Code] = true
	}
	groups := map[string]bool{}
	for i, g := range d.Groups {
		switch {
		case g.Name == "":
			add("groups[%d]: name is required", i)
		case groups[g.Name]:
			add("groups[%d]: duplicate name %q", i, g.Name)
		}
		groups[g.Name] = true
	}
	accounts := map[string]bool{}
	tokens := map[string]bool{}
	checkToken := func(where, token string) {
		n := utf8.RuneCountInString(token)
		switch {
		case n < access.MinTokenLength || n > access.MaxTokenLength:
			add("%s: token length must be %d..%d", where, access.MinTokenLength, access.MaxTokenLength)
		case tokens[token]:
			add("%s: token is already used", where)
		}
		tokens[token] = true
	}
	for i, a := range d.Accounts {
		switch {
		case a.Username == "":
			add("accounts[%d]: username is required", i)
		case accounts[a.Username]:
			add("accounts[%d]: duplicate username %q", i, a.Username)
		}
		accounts[a.Username] = true
		for _, g := range a.Groups {
			if !groups[g] {
				add("accounts[%d]: unknown group %q", i, g)
			}
		}
		for j, dev := range a.Devices {
			checkToken(fmt.Sprintf("accounts[%d].devices[%d]", i, j), dev.Token)
		}
		for j, s := range a.Sessions {
			checkToken(fmt.Sprintf("accounts[%d].sessions[%d]", i, j), s.Token)
		}
	}
	for i, g := range d.Grants {
		if !gates[g.Gate] {
			add("grants[%d]: unknown gate %q", i, g.Gate)
		}
		if g.Account == "" && g.Group == "" {
			add("grants[%d]: account or group is required", i)
		}
		if g.Account != "" && !accounts[g.Account] {
			add("grants[%d]: unknown account %q", i, g.Account)
		}
		if g.Group != "" && !groups[g.Group] {
			add("grants[%d]: unknown group %q", i, g.Group)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}
	return nil
}
