package openai

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var quotePairs = [][2]string{
	{`"`, `"`},
	{"“", "”"},
	{"'", "'"},
}

// cleanGeneratedText removes the wrapping models like to add around a short post:
// markdown code fences, stray HTML markup and a single pair of enclosing quotes.
func cleanGeneratedText(content string) string {
	text := stripCodeFence(strings.TrimSpace(content))
	if strings.ContainsRune(text, '<') {
		text = stripMarkup(text)
	}
	text = strings.TrimSpace(text)
	return strings.TrimSpace(stripEnclosingQuotes(text))
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}

	body := content[3:]
	newline := strings.IndexByte(body, '\n')
	if newline == -1 {
		return content
	}
	body = body[newline+1:]

	trimmedBody := strings.TrimRight(body, " \t\r\n")
	if !strings.HasSuffix(trimmedBody, "```") {
		return content
	}

	trimmedBody = strings.TrimRight(trimmedBody[:len(trimmedBody)-3], " \t\r\n")
	return strings.TrimSpace(trimmedBody)
}

func stripMarkup(content string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(content))

	var builder strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return builder.String()
			}
			return content
		case html.TextToken:
			builder.Write(tokenizer.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "br" {
				builder.WriteByte('\n')
			}
		}
	}
}

func stripEnclosingQuotes(content string) string {
	for _, pair := range quotePairs {
		if len(content) >= len(pair[0])+len(pair[1]) &&
			strings.HasPrefix(content, pair[0]) && strings.HasSuffix(content, pair[1]) {
			inner := content[len(pair[0]) : len(content)-len(pair[1])]
			if !strings.Contains(inner, pair[0]) && !strings.Contains(inner, pair[1]) {
				return inner
			}
		}
	}
	return content
}
