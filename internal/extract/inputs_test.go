package extract

import (
	"strings"
	"testing"

	"domkit-mcp-server/internal/dom"
)

func parse(t *testing.T, body string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString("<html><head></head><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestInputsEmailScenario(t *testing.T) {
	doc := parse(t, `<input id="email" type="email" placeholder="you@x.com">`)

	fields := Inputs(doc)
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d: %+v", len(fields), fields)
	}
	got := fields[0]
	if got.Address != `//*[@id="email"]` {
		t.Errorf("address = %q", got.Address)
	}
	if got.Type != "email" {
		t.Errorf("type = %q, want email", got.Type)
	}
	if got.Description != "you@x.com" {
		t.Errorf("description = %q", got.Description)
	}
	if got.Required || got.Disabled {
		t.Errorf("required/disabled = %v/%v, want false/false", got.Required, got.Disabled)
	}
}

func TestInputDescriptionOrder(t *testing.T) {
	long := strings.Repeat("x", 120)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "placeholder wins over label",
			body: `<label for="a">Label</label><input id="a" placeholder="Place  holder">`,
			want: "Place holder",
		},
		{
			name: "label for",
			body: `<label for="a">Email
			address</label><div><input id="a" name="email"></div>`,
			want: "Email address",
		},
		{
			name: "enclosing label",
			body: `<label>Full name <input name="n"></label>`,
			want: "Full name",
		},
		{
			name: "aria-label",
			body: `<input aria-label="Search site" name="q">`,
			want: "Search site",
		},
		{
			name: "nearest text sibling wins",
			body: `<div><label>Phone</label><span>ignored</span><input name="p"></div>`,
			want: "ignored",
		},
		{
			name: "preceding sibling stops at label",
			body: `<div><span>earlier</span><label>Phone</label><input name="p"></div>`,
			want: "Phone",
		},
		{
			name: "long sibling text skipped",
			body: `<div><b>Zip</b><p>` + long + `</p><input name="zip_code"></div>`,
			want: "Zip",
		},
		{
			name: "name fallback",
			body: `<input name="q">`,
			want: "q",
		},
		{
			name: "title fallback",
			body: `<input title="Tip">`,
			want: "Tip",
		},
		{
			name: "nothing resolves",
			body: `<input>`,
			want: NoDescription,
		},
		{
			name: "truncated",
			body: `<input placeholder="` + strings.Repeat("p", 60) + `">`,
			want: strings.Repeat("p", 50) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Inputs(parse(t, tt.body))
			if len(fields) != 1 {
				t.Fatalf("expected 1 field, got %d: %+v", len(fields), fields)
			}
			if fields[0].Description != tt.want {
				t.Errorf("description = %q, want %q", fields[0].Description, tt.want)
			}
		})
	}
}

func TestInputsSelectionAndTypes(t *testing.T) {
	doc := parse(t, `
		<input type="email" id="e">
		<input type="TEXT" id="t">
		<input id="untyped">
		<input type="hidden" name="csrf">
		<input type="submit" value="Go">
		<input type="checkbox" name="c">
		<input type="radio" name="r" id="radio">
		<div style="display:none"><input type="text" id="buried"></div>
		<textarea id="ta" contenteditable="true"></textarea>
		<select id="s"><option>1</option></select>
		<div contenteditable="true" id="ce">edit me</div>
		<div contenteditable="false" id="ro">no</div>
	`)

	fields := Inputs(doc)
	var got []string
	for _, f := range fields {
		got = append(got, f.Address+"="+f.Type)
	}

	want := []string{
		`//*[@id="t"]=text`,
		`//*[@id="e"]=email`,
		`//*[@id="untyped"]=text`,
		`//*[@id="ta"]=textarea`,
		`//*[@id="s"]=select`,
		`//*[@id="ce"]=contenteditable`,
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("fields =\n  %v\nwant\n  %v", got, want)
	}
}

func TestInputsRequiredDisabled(t *testing.T) {
	doc := parse(t, `
		<input id="r" required>
		<input id="d" disabled>
		<fieldset disabled><input id="fd"></fieldset>
	`)

	byAddr := map[string]InputField{}
	for _, f := range Inputs(doc) {
		byAddr[f.Address] = f
	}

	tests := []struct {
		addr     string
		required bool
		disabled bool
	}{
		{`//*[@id="r"]`, true, false},
		{`//*[@id="d"]`, false, true},
		{`//*[@id="fd"]`, false, true},
	}
	for _, tt := range tests {
		f, ok := byAddr[tt.addr]
		if !ok {
			t.Errorf("%s missing", tt.addr)
			continue
		}
		if f.Required != tt.required || f.Disabled != tt.disabled {
			t.Errorf("%s required/disabled = %v/%v, want %v/%v", tt.addr, f.Required, f.Disabled, tt.required, tt.disabled)
		}
	}
}

func TestInputsPositionalAddress(t *testing.T) {
	doc := parse(t, `<form><input name="a"><input name="b"></form>`)

	fields := Inputs(doc)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[1].Address != "/html/body[1]/form[1]/input[2]" {
		t.Errorf("address = %q", fields[1].Address)
	}
	if _, err := doc.Resolve(fields[1].Address); err != nil {
		t.Errorf("address does not resolve: %v", err)
	}
}

func TestInputsEmptyDocument(t *testing.T) {
	fields := Inputs(parse(t, `<p>nothing here</p>`))
	if fields == nil || len(fields) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", fields)
	}
}
