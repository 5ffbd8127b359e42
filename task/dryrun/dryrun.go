// Package dryrun provides pull and sign tasks that resolve every image
// reference the real tasks would touch without talking to a registry.
// They let the workflow be exercised end to end from configuration alone.
package dryrun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/payload"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Image is one configured "repository:tag" pair.
type Image struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// ParseImages splits entries of the form "repository:tag".
func ParseImages(entries []string) ([]Image, error) {
	out := make([]Image, 0, len(entries))
	for _, e := range entries {
		repo, tag, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || repo == "" || tag == "" {
			return nil, fmt.Errorf("image %q: want repository:tag", e)
		}
		out = append(out, Image{Repository: repo, Tag: tag})
	}
	return out, nil
}

// PullResult is the payload produced by Puller.
type PullResult struct {
	Count  int           `json:"count"`
	Images []PulledImage `json:"images"`
}

// PulledImage is an image fetched through the pull-through cache.
type PulledImage struct {
	Image
	Source string `json:"source"`
}

// SignResult is the payload produced by Signer.
type SignResult struct {
	Signed   int      `json:"signed"`
	Promoted []string `json:"promoted"`
	Profile  string   `json:"profile"`
}

func registryHost(env ingestion.EnvironmentConfig) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", env.AccountID, env.Region)
}

// ──────────────────────────────────────────────────
// Pull
// ──────────────────────────────────────────────────

// Puller resolves the cache reference of every configured image.
type Puller struct {
	env    ingestion.EnvironmentConfig
	logger *slog.Logger
}

// NewPuller creates a dry-run pull task.
func NewPuller(env ingestion.EnvironmentConfig, logger *slog.Logger) *Puller {
	return &Puller{env: env, logger: logger}
}

// Invoke implements task.Invoker. The input payload is ignored.
func (p *Puller) Invoke(_ context.Context, _ payload.Value) (payload.Value, error) {
	images, err := ParseImages(p.env.PublicImages)
	if err != nil {
		return payload.Value{}, task.Wrap(task.ClassClientError, err)
	}

	res := PullResult{Count: len(images), Images: make([]PulledImage, 0, len(images))}
	for _, img := range images {
		src := fmt.Sprintf("%s/%s/%s:%s", registryHost(p.env), p.env.Namespace, img.Repository, img.Tag)
		p.logger.Info("pull (dry run)", slog.String("source", src))
		res.Images = append(res.Images, PulledImage{Image: img, Source: src})
	}
	return payload.From(res)
}

// ──────────────────────────────────────────────────
// Sign
// ──────────────────────────────────────────────────

// Signer resolves the promoted reference of every pulled image.
type Signer struct {
	env    ingestion.EnvironmentConfig
	logger *slog.Logger
}

// NewSigner creates a dry-run sign task.
func NewSigner(env ingestion.EnvironmentConfig, logger *slog.Logger) *Signer {
	return &Signer{env: env, logger: logger}
}

var _ task.InputValidator = (*Signer)(nil)

// ValidateInput requires the payload produced by Puller.
func (s *Signer) ValidateInput(in payload.Value) error {
	_, err := decodePull(in)
	return err
}

// Invoke implements task.Invoker.
func (s *Signer) Invoke(_ context.Context, in payload.Value) (payload.Value, error) {
	pulled, err := decodePull(in)
	if err != nil {
		return payload.Value{}, task.Wrap(task.ClassMalformedPayload, err)
	}

	res := SignResult{
		Profile: fmt.Sprintf("arn:aws:signer:%s:%s:/signing-profiles/%s",
			s.env.Region, s.env.AccountID, s.env.SigningProfile),
		Promoted: make([]string, 0, len(pulled.Images)),
	}
	for _, img := range pulled.Images {
		dst := fmt.Sprintf("%s/%s/%s/%s:%s", registryHost(s.env),
			s.env.ProdNamespace, s.env.Namespace, img.Repository, img.Tag)
		s.logger.Info("promote and sign (dry run)",
			slog.String("source", img.Source),
			slog.String("destination", dst),
		)
		res.Promoted = append(res.Promoted, dst)
	}
	res.Signed = len(res.Promoted)
	return payload.From(res)
}

func decodePull(in payload.Value) (PullResult, error) {
	if in.Kind() != payload.KindObject {
		return PullResult{}, fmt.Errorf("sign input must be an object, got %s", in.Kind())
	}
	var res PullResult
	if err := in.Unmarshal(&res); err != nil {
		return PullResult{}, err
	}
	if res.Images == nil {
		return PullResult{}, fmt.Errorf("sign input has no images: %s", in)
	}
	return res, nil
}
