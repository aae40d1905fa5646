// package ui renders CLI output with lipgloss: catalog items, provider tables, sync progress and player status.
package ui
