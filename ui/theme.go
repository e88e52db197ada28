package ui

import (
	"fmt"

	"github.com/therecipe/qt/gui"
	"github.com/therecipe/qt/widgets"
)

// Catppuccin Mocha, trimmed to the shades the control window uses.
const (
	colorRed      = "#f38ba8"
	colorYellow   = "#f9e2af"
	colorGreen    = "#a6e3a1"
	colorBlue     = "#89b4fa"
	colorSapphire = "#74c7ec"

	colorText     = "#cdd6f4"
	colorSubtext0 = "#a6adc8"
	colorOverlay0 = "#6c7086"

	colorSurface2 = "#585b70"
	colorSurface1 = "#45475a"
	colorSurface0 = "#313244"

	colorBase   = "#1e1e2e"
	colorMantle = "#181825"
	colorCrust  = "#11111b"
)

func applyTheme(app *widgets.QApplication) {
	if app == nil {
		return
	}
	app.SetStyle2("Fusion")

	// Native dialogs ignore QSS, so the palette carries the dark colours too.
	palette := gui.NewQPalette()
	palette.SetColor2(gui.QPalette__Window, gui.NewQColor3(30, 30, 46, 255))
	palette.SetColor2(gui.QPalette__WindowText, gui.NewQColor3(205, 214, 244, 255))
	palette.SetColor2(gui.QPalette__Base, gui.NewQColor3(49, 50, 68, 255))
	palette.SetColor2(gui.QPalette__AlternateBase, gui.NewQColor3(69, 71, 90, 255))
	palette.SetColor2(gui.QPalette__Text, gui.NewQColor3(205, 214, 244, 255))
	palette.SetColor2(gui.QPalette__Button, gui.NewQColor3(88, 91, 112, 255))
	palette.SetColor2(gui.QPalette__ButtonText, gui.NewQColor3(205, 214, 244, 255))
	palette.SetColor2(gui.QPalette__Highlight, gui.NewQColor3(137, 180, 250, 255))
	palette.SetColor2(gui.QPalette__HighlightedText, gui.NewQColor3(17, 17, 27, 255))
	palette.SetColor(gui.QPalette__Disabled, gui.QPalette__ButtonText, gui.NewQColor3(108, 112, 134, 255))
	palette.SetColor(gui.QPalette__Disabled, gui.QPalette__WindowText, gui.NewQColor3(108, 112, 134, 255))
	app.SetPalette(palette, "")

	app.SetStyleSheet(themeStyleSheet())
}

func themeStyleSheet() string {
	return fmt.Sprintf(`
QMainWindow, QWidget#central {
	background: %[1]s;
	color: %[2]s;
}
QLabel#title {
	color: %[2]s;
	font-size: 15px;
	font-weight: bold;
}
QLabel#hint {
	color: %[3]s;
	font-size: 11px;
}
QComboBox {
	background: %[4]s;
	color: %[2]s;
	border: 1px solid %[5]s;
	border-radius: 6px;
	padding: 6px 10px;
}
QComboBox QAbstractItemView {
	background: %[6]s;
	color: %[2]s;
	selection-background-color: %[7]s;
	selection-color: %[8]s;
}
QPushButton {
	background: %[9]s;
	color: %[2]s;
	border: none;
	border-radius: 6px;
	padding: 8px 14px;
}
QPushButton:hover {
	background: %[5]s;
}
QPushButton:disabled {
	background: %[4]s;
	color: %[10]s;
}
QPushButton#toggleBtn {
	background: %[7]s;
	color: %[8]s;
	font-weight: bold;
}
QPushButton#toggleBtn:hover {
	background: %[11]s;
}
QPushButton#commandBtn {
	font-size: 22px;
	min-height: 72px;
}
`,
		colorBase,     // 1
		colorText,     // 2
		colorSubtext0, // 3
		colorSurface0, // 4
		colorSurface2, // 5
		colorMantle,   // 6
		colorBlue,     // 7
		colorCrust,    // 8
		colorSurface1, // 9
		colorOverlay0, // 10
		colorSapphire, // 11
	)
}
