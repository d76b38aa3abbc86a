// Package report renders rotation results and the stored IP history.
//
// Three formats share the Writer interface:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: JSON for scripts
//   - MarkdownWriter: GitHub-flavored Markdown built with nao1215/markdown
package report
