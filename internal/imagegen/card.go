package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/homedash/internal/models"
)

// CardWidth and CardHeight are the standard Open Graph image dimensions.
const (
	CardWidth  = 1200
	CardHeight = 630
)

const cardMargin = 60

var (
	fontRegularTTF *opentype.Font
	fontBoldTTF    *opentype.Font
	fontOnce       sync.Once
	fontErr        error
)

func loadFonts() error {
	fontOnce.Do(func() {
		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse goregular: %w", err)
			return
		}
		bold, err := opentype.Parse(gobold.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse gobold: %w", err)
			return
		}
		fontRegularTTF, fontBoldTTF = regular, bold
	})
	return fontErr
}

// cardFaces holds the faces for one render. A font.Face keeps glyph
// buffers internally and must not be shared between goroutines.
type cardFaces struct {
	title, temp, regular, small font.Face
}

func newCardFaces() (*cardFaces, error) {
	if err := loadFonts(); err != nil {
		return nil, err
	}

	f := &cardFaces{}
	specs := []struct {
		dst  *font.Face
		font *opentype.Font
		size float64
	}{
		{&f.title, fontBoldTTF, 56},
		{&f.temp, fontBoldTTF, 44},
		{&f.regular, fontRegularTTF, 28},
		{&f.small, fontRegularTTF, 22},
	}
	for _, spec := range specs {
		face, err := opentype.NewFace(spec.font, &opentype.FaceOptions{
			Size:    spec.size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create %.0fpt face: %w", spec.size, err)
		}
		*spec.dst = face
	}
	return f, nil
}

func (f *cardFaces) Close() {
	for _, face := range []font.Face{f.title, f.temp, f.regular, f.small} {
		if face != nil {
			face.Close()
		}
	}
}

// conditionColors maps OpenWeatherMap condition groups to column accents.
var conditionColors = map[string]color.RGBA{
	"Clear":        {250, 204, 21, 255},
	"Clouds":       {148, 163, 184, 255},
	"Rain":         {59, 130, 246, 255},
	"Drizzle":      {96, 165, 250, 255},
	"Thunderstorm": {139, 92, 246, 255},
	"Snow":         {226, 232, 240, 255},
	"Mist":         {203, 213, 225, 255},
	"Fog":          {203, 213, 225, 255},
}

var defaultAccent = color.RGBA{100, 116, 139, 255}

// RenderForecastCard draws the daily forecast as a 1200x630 PNG with one
// column per day.
func RenderForecastCard(env *models.ForecastEnvelope) ([]byte, error) {
	faces, err := newCardFaces()
	if err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	defer faces.Close()

	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	drawBackground(img)

	white := color.RGBA{255, 255, 255, 255}
	lightGray := color.RGBA{200, 200, 200, 255}

	title := env.Location
	if env.Country != "" {
		title += ", " + env.Country
	}
	drawText(img, title, cardMargin, 100, white, faces.title)

	if len(env.Forecast) == 0 {
		drawText(img, "No forecast available", cardMargin, CardHeight/2, lightGray, faces.regular)
		return encodePNG(img)
	}

	colWidth := (CardWidth - 2*cardMargin) / len(env.Forecast)
	top := 170
	for i, day := range env.Forecast {
		x := cardMargin + i*colWidth
		drawColumn(img, faces, day, x, top, colWidth-20)
	}

	return encodePNG(img)
}

func drawColumn(img *image.RGBA, faces *cardFaces, day models.DailySummary, x, top, width int) {
	white := color.RGBA{255, 255, 255, 255}
	lightGray := color.RGBA{200, 200, 200, 255}

	accent, ok := conditionColors[day.Condition]
	if !ok {
		accent = defaultAccent
	}
	fillRect(img, image.Rect(x, top, x+width, top+8), accent)

	date := day.Date
	if len(date) == len("2006-01-02") {
		date = date[8:10] + "." + date[5:7] + "."
	}
	drawText(img, date, x, top+60, lightGray, faces.regular)
	drawText(img, fitText(day.Condition, faces.regular, width), x, top+110, accent, faces.regular)
	drawText(img, fmt.Sprintf("%d°", day.Temperature.Max), x, top+190, white, faces.temp)
	drawText(img, fmt.Sprintf("%d°", day.Temperature.Min), x, top+250, lightGray, faces.regular)
	drawText(img, fmt.Sprintf("%d%%  %.1f mm", day.Precipitation.Probability, day.Precipitation.Amount), x, top+310, lightGray, faces.small)
	drawText(img, fmt.Sprintf("%d km/h", day.WindSpeed), x, top+345, lightGray, faces.small)
}

func drawBackground(img *image.RGBA) {
	for y := 0; y < CardHeight; y++ {
		progress := float64(y) / float64(CardHeight)
		c := color.RGBA{uint8(20 + progress*10), uint8(20 + progress*15), uint8(40 + progress*20), 255}
		for x := 0; x < CardWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// fitText trims s with an ellipsis until it fits within width pixels.
func fitText(s string, face font.Face, width int) string {
	limit := fixed.I(width)
	if font.MeasureString(face, s) <= limit {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := strings.TrimSpace(string(runes)) + "…"
		if font.MeasureString(face, candidate) <= limit {
			return candidate
		}
	}
	return ""
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode forecast card: %w", err)
	}
	return buf.Bytes(), nil
}
