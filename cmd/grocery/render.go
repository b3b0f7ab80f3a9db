package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/session"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Faint(true).Strikethrough(true)

	boxChecked   = "☑"
	boxUnchecked = "☐"
)

func ok(msg string) {
	fmt.Println(successStyle.Render("✔ " + msg))
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("✖ "+msg))
}

func renderItem(it model.Item) string {
	qty := fmt.Sprintf("%g", it.Quantity.Count)
	if it.Quantity.Unit != "" {
		qty += " " + it.Quantity.Unit
	}
	line := fmt.Sprintf("%s %s (%s)", boxUnchecked, it.Name, qty)
	if it.State == model.ItemStuffed {
		line = doneStyle.Render(fmt.Sprintf("%s %s (%s)", boxChecked, it.Name, qty))
	}
	if it.Comment != "" {
		line += " " + mutedStyle.Render(it.Comment)
	}
	return line + " " + mutedStyle.Render(it.ID)
}

// renderDocument lists categories in order, then items that sit in no category.
func renderDocument(doc model.Document) string {
	var lines []string
	required := 0
	for _, it := range doc.Items {
		if it.State != model.ItemStuffed {
			required++
		}
	}
	lines = append(lines, fmt.Sprintf("%s  %s %d  %s %d",
		titleStyle.Render("Groceries"),
		pendingStyle.Render("•"), required,
		successStyle.Render("✔"), len(doc.Items)-required,
	))

	for _, c := range doc.Categories {
		header := titleStyle.Render(c.Name) + " " + mutedStyle.Render(c.ID)
		if c.State == model.CategoryCollapsed {
			lines = append(lines, "▸ "+header)
			continue
		}
		lines = append(lines, "▾ "+header)
		for _, id := range c.Items {
			if it, ok := doc.Items[id]; ok {
				lines = append(lines, "    "+renderItem(it))
			}
		}
	}

	loose := doc.Uncategorised()
	if len(loose) > 0 {
		lines = append(lines, titleStyle.Render("Other"))
		slices.SortFunc(loose, func(a, b string) int { return strings.Compare(doc.Items[a].Name, doc.Items[b].Name) })
		for _, id := range loose {
			lines = append(lines, "    "+renderItem(doc.Items[id]))
		}
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	return border.Render(strings.Join(lines, "\n"))
}

func renderState(st session.State) string {
	switch st.Status {
	case session.StatusSynced:
		return successStyle.Render(st.String())
	case session.StatusError:
		return errorStyle.Render(st.String())
	case session.StatusSyncing:
		return pendingStyle.Render(st.String())
	default:
		return mutedStyle.Render(st.String())
	}
}

// slugify lowercases name and joins its words with dashes.
func slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
