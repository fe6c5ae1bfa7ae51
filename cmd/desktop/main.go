package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"go.uber.org/zap"
	"golang.org/x/image/font/basicfont"

	"wirebus/pkg/asm"
	"wirebus/pkg/codec"
	"wirebus/pkg/config"
	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
	"wirebus/pkg/grid"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
	"wirebus/pkg/utils"
)

const (
	screenWidth  = 512
	screenHeight = 384
	tileCols     = 4
	tileWidth    = 120
	tileHeight   = 64
	tileGap      = 8
)

var (
	face = text.NewGoXFace(basicfont.Face7x13)

	colorBackground = color.RGBA{0x1e, 0x22, 0x27, 0xff}
	colorTile       = color.RGBA{0x2e, 0x34, 0x3b, 0xff}
	colorSelected   = color.RGBA{0x3a, 0x5f, 0x8a, 0xff}
	colorText       = color.RGBA{0xe6, 0xe6, 0xe6, 0xff}
	colorFault      = color.RGBA{0xe0, 0x6c, 0x60, 0xff}
)

type Game struct {
	panel *Panel
}

func (g *Game) Update() error {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight), inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		g.panel.Select(1)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft), inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		g.panel.Select(-1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyKPAdd) {
		g.panel.Adjust(1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract) {
		g.panel.Adjust(-1)
	}

	// One scan per frame.
	g.panel.Scan(context.Background())
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(colorBackground)

	for i, t := range g.panel.Tiles() {
		x, y := grid.GetGridCoords(i, tileCols)
		px := tileGap + x*(tileWidth+tileGap)
		py := tileGap + y*(tileHeight+tileGap)

		bg := colorTile
		if t.Selected {
			bg = colorSelected
		}
		screen.SubImage(image.Rect(px, py, px+tileWidth, py+tileHeight)).(*ebiten.Image).Fill(bg)

		drawText(screen, fmt.Sprintf("port %d", t.Port), px+6, py+6, colorText)
		drawText(screen, t.Kind, px+6, py+22, colorText)
		drawText(screen, fmt.Sprintf("%d", t.Value), px+6, py+42, colorText)
	}

	status := fmt.Sprintf("scan %d  result %d", g.panel.Scans, g.panel.Result)
	statusColor := colorText
	if g.panel.Err != nil {
		status = g.panel.Err.Error()
		statusColor = colorFault
	}
	drawText(screen, status, tileGap, screenHeight-40, statusColor)
	drawText(screen, "arrows: select input   +/-: adjust", tileGap, screenHeight-20, colorText)
}

func drawText(dst *ebiten.Image, msg string, x, y int, c color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	op.ColorScale.ScaleWithColor(c)
	text.Draw(dst, msg, face, op)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

// loadImage compiles a source file or reads an encoded image, picking by
// extension.
func loadImage(path string, w isa.Width) ([]uint64, isa.Width, error) {
	if utils.IsImage(path) {
		return codec.ReadFile(path, 0)
	}
	words, err := asm.CompileFile(path, w)
	return words, w, err
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: desktop <script.src|image.bin>")
		os.Exit(2)
	}

	fullPath, baseDir, err := utils.GetPathInfo(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", os.Args[1], err)
	}

	cfg, err := config.FindAndLoad(baseDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	words, width, err := loadImage(fullPath, cfg.Width())
	if err != nil {
		log.Fatalf("Failed to load script: %v", err)
	}

	bus := devices.NewBus()
	ports := cfg.PortConfigs()
	for i := range ports {
		ports[i].Writer = io.Discard
	}
	if _, err := peripherals.Mount(bus, ports, nil, ""); err != nil {
		log.Fatalf("Failed to mount ports: %v", err)
	}

	vm := cpu.NewCPU(words,
		cpu.WithDevice(bus),
		cpu.WithWidth(width),
		cpu.WithMaxSteps(cfg.Run.MaxSteps),
		cpu.WithStackDepth(cfg.Run.StackDepth),
	)

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("wirebus panel")

	game := &Game{panel: NewPanel(vm, bus, cfg.Run.Params, logger)}
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
