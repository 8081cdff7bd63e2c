package services

import (
	"bytes"
	"fmt"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/models"
	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

type QRService struct {
	cfg *config.Config
}

func NewQRService(cfg *config.Config) *QRService { return &QRService{cfg: cfg} }

// GenerateOnboardingQRPDF generates a printable A4 PDF with a QR code
// pointing at the guild's verification instructions, for posting in
// orientation materials
func (s *QRService) GenerateOnboardingQRPDF(gc *models.GuildConfig) ([]byte, error) {
	onboardingURL := fmt.Sprintf("%s/guilds/%s/onboarding", s.cfg.DashboardURL, gc.GuildID)

	// Create QR PNG in memory
	var qrBuf bytes.Buffer
	png, err := qrcode.Encode(onboardingURL, qrcode.Medium, 512)
	if err != nil {
		return nil, err
	}
	qrBuf.Write(png)

	// Create PDF
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, fmt.Sprintf("Verify your email for %s", gc.GuildName))
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 6, fmt.Sprintf("Scan to see how verification works, then run /verify in Discord.\nURL: %s", onboardingURL), "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(qrBuf.Bytes()))

	// Center QR on the page
	x := (210.0 - 100.0) / 2.0 // A4 width 210mm, QR size 100mm
	y := pdf.GetY() + 10
	pdf.ImageOptions("qr", x, y, 100, 100, false, opt, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
