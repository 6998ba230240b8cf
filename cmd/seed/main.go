// Command seed fills the configured store with sample listings for local
// development and demos.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"

	"github.com/clothbridge/clothbridge/internal/app/runtime"
	"github.com/clothbridge/clothbridge/internal/app/services/donations"
	"github.com/clothbridge/clothbridge/internal/app/services/requests"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/config"
)

var samples = []struct {
	categories []string
	types      []string
	condition  string
	size       string
}{
	{[]string{"women"}, []string{"sweaters", "jackets"}, "Like New", "m"},
	{[]string{"men"}, []string{"shirts", "pants"}, "Good", "l"},
	{[]string{"kids"}, []string{"t-shirts"}, "New", "s"},
	{[]string{"unisex"}, []string{"winterwear"}, "Fair", "xl"},
	{[]string{"women"}, []string{"ethnic", "dresses"}, "Good", "s"},
}

func main() {
	configFile := flag.String("config", "", "Path to YAML config file (overrides CONFIG_FILE)")
	count := flag.Int("count", len(samples), "Number of donations and requests to create")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Seeding never serves traffic or runs background jobs.
	cfg.Scheduler.Enabled = false

	ctx := context.Background()
	rt, err := runtime.NewApplication(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}
	defer rt.Shutdown(ctx)
	svc := rt.App()

	photo, err := placeholderPNG()
	if err != nil {
		log.Fatalf("render placeholder: %v", err)
	}

	for i := 0; i < *count; i++ {
		s := samples[i%len(samples)]
		donor := fmt.Sprintf("seed-donor-%d", i+1)
		requester := fmt.Sprintf("seed-requester-%d", i+1)

		d, err := svc.Donations.Create(ctx, donor, donations.CreateInput{
			FullName:      fmt.Sprintf("Sample Donor %d", i+1),
			Email:         fmt.Sprintf("donor%d@example.com", i+1),
			Categories:    s.categories,
			ClothingTypes: s.types,
			Condition:     s.condition,
			Comments:      "Seeded sample donation",
		}, []uploads.File{{Name: "sample.png", Reader: bytes.NewReader(photo)}})
		if err != nil {
			log.Fatalf("create donation %d: %v", i+1, err)
		}

		r, err := svc.Requests.Create(ctx, requester, requests.CreateInput{
			FullName:         fmt.Sprintf("Sample Requester %d", i+1),
			Age:              25 + i,
			Gender:           "other",
			Phone:            fmt.Sprintf("+91 90000 %05d", i+1),
			Email:            fmt.Sprintf("requester%d@example.com", i+1),
			Address:          fmt.Sprintf("%d Sample Street", i+1),
			RationCardNumber: fmt.Sprintf("SEED-%04d", i+1),
			RationCardType:   "apl",
			Categories:       s.categories,
			ClothingTypes:    s.types,
			ClothingSize:     s.size,
			AdditionalInfo:   "Seeded sample request",
		}, &uploads.File{Name: "card.png", Reader: bytes.NewReader(photo)})
		if err != nil {
			log.Fatalf("create request %d: %v", i+1, err)
		}
		fmt.Printf("seeded donation %s and request %s\n", d.ID, r.ID)
	}

	fmt.Printf("Seeded %d donations and %d requests into the %s store\n", *count, *count, cfg.Store.Driver)
}

func placeholderPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 0x4a, G: 0x90, B: 0xe2, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[seed] ")
}
