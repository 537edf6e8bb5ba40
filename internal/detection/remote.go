package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/greenlight/internal/httputil"
)

// maxResponseBytes bounds the inference server's JSON reply.
const maxResponseBytes = 4 << 20

// RemoteOracleConfig configures a RemoteOracle. Zero values select
// defaults.
type RemoteOracleConfig struct {
	URL           string
	Timeout       time.Duration
	ConfThreshold float64
	NMSThreshold  float64
	MaxCount      int
	Vocabulary    *Vocabulary
}

// RemoteOracle posts frames to an inference server that returns raw boxes,
// then filters, classifies and annotates them locally.
//
// The server receives the encoded frame as the request body and must
// answer 200 with {"detections": [{"class", "confidence", "x", "y", "w", "h"}]}.
type RemoteOracle struct {
	client httputil.HTTPClient
	cfg    RemoteOracleConfig
	vocab  Vocabulary
}

// NewRemoteOracle creates a RemoteOracle. A nil client uses
// http.DefaultClient.
func NewRemoteOracle(client httputil.HTTPClient, cfg RemoteOracleConfig) (*RemoteOracle, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote oracle: url is required")
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConfThreshold == 0 {
		cfg.ConfThreshold = 0.6
	}
	if cfg.NMSThreshold == 0 {
		cfg.NMSThreshold = 0.4
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultMaxCount
	}
	vocab := NewVocabulary(nil, nil)
	if cfg.Vocabulary != nil {
		vocab = *cfg.Vocabulary
	}
	return &RemoteOracle{client: client, cfg: cfg, vocab: vocab}, nil
}

type inferResponse struct {
	Detections []Box `json:"detections"`
}

// Detect implements Oracle.
func (o *RemoteOracle) Detect(ctx context.Context, frame []byte) (Detection, error) {
	img, err := decodeFrame(frame)
	if err != nil {
		return Detection{}, err
	}

	boxes, err := o.infer(ctx, frame)
	if err != nil {
		return Detection{}, err
	}

	kept := NonMaxSuppression(FilterConfidence(boxes, o.cfg.ConfThreshold), o.cfg.NMSThreshold)

	canvas := newCanvas(img)
	var d Detection
	for _, b := range kept {
		vehicle, emergency := o.vocab.Classify(b.Class)
		if !vehicle {
			continue
		}
		d.Count++
		d.Emergency = d.Emergency || emergency
		canvas.drawBox(b)
		if d.Count >= o.cfg.MaxCount {
			break
		}
	}

	d.Image, err = canvas.encode()
	if err != nil {
		return Detection{}, err
	}
	return d, nil
}

func (o *RemoteOracle) infer(ctx context.Context, frame []byte) ([]Box, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(frame))
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out inferResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return out.Detections, nil
}
