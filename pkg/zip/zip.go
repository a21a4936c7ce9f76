// Package zip packs a finished case into a portable archive: one text file
// per page, the decoded panels and a JSON manifest.
package zip

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"noirvrs/internal/domain"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

type manifestPage struct {
	Number int              `json:"number"`
	Scene  domain.SceneRole `json:"scene_role"`
	Text   string           `json:"text_file"`
	Panel  string           `json:"panel,omitempty"`
}

type manifest struct {
	CaseID    string         `json:"case_id"`
	Title     string         `json:"title,omitempty"`
	StoryYear string         `json:"story_year,omitempty"`
	Location  string         `json:"location,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Pages     []manifestPage `json:"pages"`
}

// ArchiveAssets writes assets into a zip in order.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// CaseAssets lists the files of a case. Inline panels are decoded; remote
// panels are kept as .url shortcuts; unsettled panels are skipped.
func CaseAssets(c domain.Case) ([]Asset, error) {
	m := manifest{
		CaseID:    c.ID,
		Title:     c.Title,
		StoryYear: c.StoryYear,
		Location:  c.Location,
		CreatedAt: c.CreatedAt,
	}
	var assets []Asset
	for i, page := range c.Pages {
		n := i + 1
		text := fmt.Sprintf("page-%d.txt", n)
		assets = append(assets, Asset{Filename: text, MIME: "text/plain", Data: []byte(page.Text + "\n")})
		mp := manifestPage{Number: n, Scene: page.SceneRole, Text: text}

		if slot := c.Slots[i]; slot.State == domain.SlotResolved {
			panel, err := panelAsset(n, slot.Ref)
			if err != nil {
				return nil, err
			}
			assets = append(assets, panel)
			mp.Panel = panel.Filename
		}
		m.Pages = append(m.Pages, mp)
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]Asset{{Filename: "case.json", MIME: "application/json", Data: body}}, assets...), nil
}

// ArchiveCase is CaseAssets followed by ArchiveAssets.
func ArchiveCase(c domain.Case) ([]byte, error) {
	assets, err := CaseAssets(c)
	if err != nil {
		return nil, err
	}
	return ArchiveAssets(assets)
}

func panelAsset(page int, ref string) (Asset, error) {
	if !strings.HasPrefix(ref, "data:") {
		return Asset{
			Filename: fmt.Sprintf("panel-%d.url", page),
			MIME:     "text/uri-list",
			Data:     []byte(ref + "\n"),
		}, nil
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return Asset{}, fmt.Errorf("zip: panel %d: malformed data url", page)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Asset{}, fmt.Errorf("zip: panel %d: %w", page, err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return Asset{}, fmt.Errorf("zip: panel %d: %w", page, err)
		}
		data = []byte(unescaped)
	}
	return Asset{Filename: fmt.Sprintf("panel-%d.%s", page, extension(mime)), MIME: mime, Data: data}, nil
}

func extension(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	default:
		return "bin"
	}
}
