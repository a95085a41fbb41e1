// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Block is one message as plain text with an optional HTML rendering.
type Block struct {
	Text string
	HTML string
}

// IsZero reports whether the block has no plain text. A block with
// only HTML is treated as unset.
func (b Block) IsZero() bool {
	return b.Text == ""
}

// Content is the set of messages the gatekeeper sends.
type Content struct {
	Rules   Block
	Welcome Block
	Tips    Block
}

// LoadContent reads each message from <dir>/<name>.txt and
// <dir>/<name>.html, falling back to the <NAME>_TEXT and <NAME>_HTML
// environment variables for files that do not exist. File contents are
// trimmed; environment values are used verbatim.
//
// With renderMarkdown, a block with text but no HTML gets its HTML
// rendered from the text.
func LoadContent(dir string, renderMarkdown bool) (Content, error) {
	var content Content
	blocks := []struct {
		name  string
		block *Block
	}{
		{"rules", &content.Rules},
		{"welcome", &content.Welcome},
		{"tips", &content.Tips},
	}

	for _, entry := range blocks {
		envPrefix := strings.ToUpper(entry.name)

		text, err := loadText(dir, entry.name+".txt", envPrefix+"_TEXT")
		if err != nil {
			return Content{}, err
		}
		html, err := loadText(dir, entry.name+".html", envPrefix+"_HTML")
		if err != nil {
			return Content{}, err
		}

		if renderMarkdown && text != "" && html == "" {
			html, err = RenderMarkdown(text)
			if err != nil {
				return Content{}, fmt.Errorf("config: rendering %s as markdown: %w", entry.name, err)
			}
		}
		*entry.block = Block{Text: text, HTML: html}
	}
	return content, nil
}

func loadText(dir, filename, envVar string) (string, error) {
	if dir != "" {
		path := filepath.Join(dir, filename)
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return os.Getenv(envVar), nil
}

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownInstance
}

// RenderMarkdown converts GitHub-flavored Markdown to HTML suitable for
// a Matrix formatted_body. Raw HTML in the source is omitted.
func RenderMarkdown(source string) (string, error) {
	var output bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &output); err != nil {
		return "", err
	}
	return strings.TrimSpace(output.String()), nil
}
