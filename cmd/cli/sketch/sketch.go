package sketch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"os"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "sketch",
	Title: "Sample sketches",
}

func init() {
	Generate.Flags().String("out", "", "path to generated image file, defaults to <category>.png")
	Generate.Flags().String("style", "a shaky pencil line drawing on white paper, as drawn by an adult non-artist",
		"drawing style appended to the prompt")
}

// Prompt describes the sample sketch of category.
func Prompt(category models.Category, style string) string {
	subject := map[models.Category]string{
		models.CategoryHouse:  "a simple house with a door, windows, a roof and a chimney",
		models.CategoryTree:   "a single tree with a trunk, branches and a crown",
		models.CategoryPerson: "a whole standing person, head to feet",
	}[category]
	return fmt.Sprintf("%s, %s. No text, no colour, no shading.", subject, style)
}

var Generate = &cobra.Command{
	Use:       "sketch [house|tree|person]",
	GroupID:   "sketch",
	Short:     "Generate a sample sketch",
	Long:      `Generates a sample house-tree-person sketch with DALL-E for trying out the interpretation`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.CategoryHouse), string(models.CategoryTree), string(models.CategoryPerson)},
	RunE: func(cmd *cobra.Command, args []string) error {
		category, ok := models.ParseCategory(args[0])
		if !ok {
			return errors.New("unknown category: " + args[0])
		}
		style, err := cmd.Flags().GetString("style")
		if err != nil {
			return errors.Wrap(err, "invalid style flag")
		}
		outPath, err := cmd.Flags().GetString("out")
		if err != nil {
			return errors.Wrap(err, "invalid out flag")
		}
		if outPath == "" {
			outPath = string(category) + ".png"
		}

		config := openai.DefaultConfig(os.Getenv("OPENAI_API_KEY"))
		if baseURL := os.Getenv("HTPCHAT_OPENAI_BASE_URL"); baseURL != "" {
			config.BaseURL = baseURL
		}
		imgBytes, err := generate(cmd.Context(), openai.NewClientWithConfig(config), category, style)
		if err != nil {
			return err
		}
		if err = os.WriteFile(outPath, imgBytes, 0o600); err != nil {
			return errors.Wrap(err, "write image")
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "The %s sketch was saved as %s\n", category.DisplayName(), outPath)
		return nil
	},
}

func generate(ctx context.Context, c *openai.Client, category models.Category, style string) ([]byte, error) {
	response, err := c.CreateImage(ctx, openai.ImageRequest{
		Model:          openai.CreateImageModelDallE3,
		Prompt:         Prompt(category, style),
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	if len(response.Data) == 0 {
		return nil, errors.New("no image in response")
	}

	imgBytes, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	// Decoding validates the PNG before it is written.
	if _, err = png.Decode(bytes.NewReader(imgBytes)); err != nil {
		return nil, errors.Wrap(err, "decode PNG")
	}
	return imgBytes, nil
}
