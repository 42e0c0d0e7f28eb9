package graph

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// decodeEpisode converts a raw backend record into an Episode. Backends
// return timestamps as RFC3339 strings and numerics as float64; both are
// normalized here.
func decodeEpisode(raw map[string]any) (*Episode, error) {
	var episode Episode
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &episode,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(stringToTimeHook),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("malformed episode record: %w", err)
	}
	return &episode, nil
}

func stringToTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
