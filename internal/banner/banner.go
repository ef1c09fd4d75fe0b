package banner

import (
	"replayq/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
    ____             __            ____
   / __ \___  ____  / /___ ___  __/ __ \
  / /_/ / _ \/ __ \/ / __ '/ / / / / / /
 / _, _/  __/ /_/ / / /_/ / /_/ / /_/ /
/_/ |_|\___/ .___/_/\__,_/\__, /\___\_\
          /_/            /____/         `

	return "\n" + style.Render(ascii) + "\n"
}
