package profile

import (
	"errors"
	"strings"
)

var ErrInvalidGender = errors.New("gender must be girl or boy")

// Gender selects the student's theme. The zero value behaves as Boy.
type Gender int

const (
	Boy Gender = iota
	Girl
)

func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "girl":
		return Girl, nil
	case "boy":
		return Boy, nil
	default:
		return Boy, ErrInvalidGender
	}
}

func (g Gender) String() string {
	if g == Girl {
		return "girl"
	}
	return "boy"
}

func (g Gender) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *Gender) UnmarshalText(b []byte) error {
	v, err := ParseGender(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

type Palette struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
	Success    string `json:"success"`
}

var (
	girlPalette = Palette{
		Primary:    "#ec4899",
		Secondary:  "#a855f7",
		Accent:     "#f472b6",
		Background: "#fdf2f8",
		Success:    "#d946ef",
	}
	boyPalette = Palette{
		Primary:    "#0ea5e9",
		Secondary:  "#10b981",
		Accent:     "#fbbf24",
		Background: "#f0f9ff",
		Success:    "#06b6d4",
	}
)

func PaletteFor(g Gender) Palette {
	if g == Girl {
		return girlPalette
	}
	return boyPalette
}

// CSSVariables maps the palette to the custom properties the frontend reads.
func (p Palette) CSSVariables() map[string]string {
	return map[string]string{
		"--primary":    p.Primary,
		"--secondary":  p.Secondary,
		"--accent":     p.Accent,
		"--background": p.Background,
		"--success":    p.Success,
	}
}
