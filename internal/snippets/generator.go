// Package snippets renders copy-paste integration code for the offer page
// tracker in common site frameworks.
package snippets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

type Framework string

const (
	FrameworkHTML   Framework = "html"
	FrameworkNextJS Framework = "nextjs"
	FrameworkVue    Framework = "vue"
	FrameworkSvelte Framework = "svelte"
	FrameworkOther  Framework = "other"
)

// Frameworks lists the supported frameworks in menu order.
var Frameworks = []Framework{FrameworkHTML, FrameworkNextJS, FrameworkVue, FrameworkSvelte, FrameworkOther}

type Config struct {
	Subject   string
	Variants  []string
	ServerURL string
}

type SnippetFile struct {
	Filename string
	Content  string
}

type templateData struct {
	Subject      string
	VariantsJSON string
	ServerURL    string
}

const scriptTag = `<script src="{{.ServerURL}}/ot.js" defer></script>`

const pageMarkup = `  <section data-op-view="view_offer">Your cash offer: ...</section>
  <section data-op-view="view_benefits">...</section>
  <section data-op-view="view_testimonials">...</section>
  <form data-op-form data-op-view="view_form">
    ...
    <button type="submit" data-op-click>Get my offer</button>
  </form>`

var files = map[Framework][]struct{ name, body string }{
	FrameworkHTML: {
		{"index.html", `<head>
  ` + scriptTag + `
</head>
<main data-op-subject="{{.Subject}}" data-op-variants='{{.VariantsJSON}}'>
` + pageMarkup + `
</main>`},
	},
	FrameworkNextJS: {
		{"app/layout.tsx", `import Script from "next/script";

export default function RootLayout({ children }: { children: React.ReactNode }) {
  return (
    <html lang="en">
      <body>
        {children}
        <Script src="{{.ServerURL}}/ot.js" strategy="afterInteractive" />
      </body>
    </html>
  );
}`},
		{"app/offer/[subject]/page.tsx", `export default function OfferPage({ params }: { params: { subject: string } }) {
  return (
    <main data-op-subject={params.subject} data-op-variants='{{.VariantsJSON}}'>
      <section data-op-view="view_offer">...</section>
      <form data-op-form data-op-view="view_form">
        <button type="submit" data-op-click>Get my offer</button>
      </form>
    </main>
  );
}`},
	},
	FrameworkVue: {
		{"index.html", `<head>
  ` + scriptTag + `
</head>`},
		{"OfferPage.vue", `<template>
  <main data-op-subject="{{.Subject}}" :data-op-variants="JSON.stringify(variants)">
    <section data-op-view="view_offer">...</section>
    <form data-op-form data-op-view="view_form">
      <button type="submit" data-op-click>Get my offer</button>
    </form>
  </main>
</template>

<script setup>
const variants = {{.VariantsJSON}};
</script>`},
	},
	FrameworkSvelte: {
		{"src/app.html", `<head>
  ` + scriptTag + `
  %sveltekit.head%
</head>`},
		{"src/routes/offer/+page.svelte", `<script>
  const variants = {{.VariantsJSON}};
</script>

<main data-op-subject="{{.Subject}}" data-op-variants={JSON.stringify(variants)}>
  <section data-op-view="view_offer">...</section>
  <form data-op-form data-op-view="view_form">
    <button type="submit" data-op-click>Get my offer</button>
  </form>
</main>`},
	},
	FrameworkOther: {
		{"Add to your HTML <head>", scriptTag},
		{"Mark up the offer page", `<main data-op-subject="{{.Subject}}" data-op-variants='{{.VariantsJSON}}'>
` + pageMarkup + `
</main>`},
	},
}

// Generate renders the integration files for framework.
func Generate(framework Framework, cfg Config) ([]SnippetFile, error) {
	entries, ok := files[framework]
	if !ok {
		return nil, fmt.Errorf("unknown framework: %s", framework)
	}

	variants := cfg.Variants
	if len(variants) == 0 {
		variants = []string{"A", "B"}
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, err
	}
	data := templateData{
		Subject:      cfg.Subject,
		VariantsJSON: string(variantsJSON),
		ServerURL:    strings.TrimRight(cfg.ServerURL, "/"),
	}

	out := make([]SnippetFile, 0, len(entries))
	for _, entry := range entries {
		tmpl, err := template.New(entry.name).Parse(entry.body)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", entry.name, err)
		}
		out = append(out, SnippetFile{Filename: entry.name, Content: buf.String()})
	}
	return out, nil
}
