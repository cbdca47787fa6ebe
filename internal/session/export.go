package session

import (
	"fmt"
	"strings"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
)

// renderMarkdown turns one consistent snapshot into the human-readable
// summary sent back on session:export: columns with their standalone
// cards and clusters (vote counts included), then action items.
func renderMarkdown(snapshot *StateSnapshot) string {
	voteCounts := make(map[string]int)
	for _, vote := range snapshot.Votes {
		voteCounts[vote.TargetID]++
	}
	authors := make(map[string]string)
	for _, user := range snapshot.Users {
		authors[user.ID] = user.DisplayName
	}
	cardsByID := make(map[string]board.Card)
	for _, card := range snapshot.Cards {
		cardsByID[card.ID] = card
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", snapshot.Session.Name)

	for _, column := range snapshot.Session.Columns {
		fmt.Fprintf(&b, "\n## %s\n", column)
		empty := true

		for _, cl := range snapshot.Clusters {
			if cl.Column != column {
				continue
			}
			empty = false
			fmt.Fprintf(&b, "\n### %s%s\n\n", cl.Name, voteSuffix(voteCounts[cl.ID]))
			for _, cardID := range cl.CardIDs {
				card, ok := cardsByID[cardID]
				if !ok {
					continue
				}
				fmt.Fprintf(&b, "- %s%s\n", cardLine(card, authors), voteSuffix(voteCounts[card.ID]))
			}
		}

		wroteHeader := false
		for _, card := range snapshot.Cards {
			if card.Column != column || card.Clustered() {
				continue
			}
			if !wroteHeader {
				b.WriteString("\n")
				wroteHeader = true
			}
			empty = false
			fmt.Fprintf(&b, "- %s%s\n", cardLine(card, authors), voteSuffix(voteCounts[card.ID]))
		}

		if empty {
			b.WriteString("\n_No cards_\n")
		}
	}

	if len(snapshot.ActionItems) > 0 {
		b.WriteString("\n## Action items\n\n")
		for _, item := range snapshot.ActionItems {
			if item.Owner != "" {
				fmt.Fprintf(&b, "- [ ] %s (%s)\n", item.Task, item.Owner)
			} else {
				fmt.Fprintf(&b, "- [ ] %s\n", item.Task)
			}
		}
	}

	return b.String()
}

func cardLine(card board.Card, authors map[string]string) string {
	content := strings.ReplaceAll(card.Content, "\n", " ")
	if author, ok := authors[card.UserID]; ok && author != "" {
		return fmt.Sprintf("%s — %s", content, author)
	}
	return content
}

func voteSuffix(count int) string {
	switch count {
	case 0:
		return ""
	case 1:
		return " (1 vote)"
	default:
		return fmt.Sprintf(" (%d votes)", count)
	}
}
