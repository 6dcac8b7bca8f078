package repository

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
)

// compressThreshold is the smallest body worth compressing.
const compressThreshold = 512

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() error {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// encodeBody compresses large bodies. Small ones are stored as-is.
func encodeBody(body []byte) ([]byte, string, error) {
	if len(body) < compressThreshold {
		return body, entities.EncodingIdentity, nil
	}
	if err := initCodec(); err != nil {
		return nil, "", err
	}
	return encoder.EncodeAll(body, make([]byte, 0, len(body)/2)), entities.EncodingZstd, nil
}

func decodeBody(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", entities.EncodingIdentity:
		return body, nil
	case entities.EncodingZstd:
		if err := initCodec(); err != nil {
			return nil, err
		}
		return decoder.DecodeAll(body, nil)
	default:
		return nil, errors.Newf("unknown body encoding %q", encoding).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
}

// toEntry converts a response into a row ready for insert.
func toEntry(bucketID uint, r *entities.StoredResponse) (entities.CacheEntry, error) {
	headers, err := json.Marshal(r.Header)
	if err != nil {
		return entities.CacheEntry{}, err
	}
	body, encoding, err := encodeBody(r.Body)
	if err != nil {
		return entities.CacheEntry{}, err
	}
	return entities.CacheEntry{
		BucketID:   bucketID,
		Method:     r.Method,
		URLHash:    entities.HashURL(r.URL),
		URL:        r.URL,
		Status:     r.Status,
		StatusText: r.StatusText,
		Headers:    string(headers),
		Body:       body,
		Encoding:   encoding,
		Size:       int64(len(r.Body)),
	}, nil
}

func fromEntry(bucket string, e *entities.CacheEntry) (*entities.StoredResponse, error) {
	header := http.Header{}
	if e.Headers != "" {
		if err := json.Unmarshal([]byte(e.Headers), &header); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("url", e.URL).
				Build()
		}
	}
	body, err := decodeBody(e.Body, e.Encoding)
	if err != nil {
		return nil, err
	}
	return &entities.StoredResponse{
		Bucket:     bucket,
		Method:     e.Method,
		URL:        e.URL,
		Status:     e.Status,
		StatusText: e.StatusText,
		Header:     header,
		Body:       body,
		StoredAt:   e.UpdatedAt,
	}, nil
}
