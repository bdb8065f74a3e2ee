package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shotbook-server/modules/common/model"
)

func TestAssetRowConversion(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	asset := model.Asset{
		ID: "a1", Name: "Max", Description: "red coat", Type: model.AssetCharacter,
		Image: []byte{1, 2, 3}, ImageMIME: "image/png", CreatedAt: at,
	}

	row := rowFromAsset(asset)
	require.Equal(t, "character", row.AssetType)
	require.NotNil(t, row.ImageData)
	require.Equal(t, "AQID", *row.ImageData)
	require.Equal(t, asset, row.toAsset())

	bare := rowFromAsset(model.Asset{ID: "a2", Name: "Diner", Type: model.AssetLocation})
	require.Nil(t, bare.ImageData)
	require.Nil(t, bare.toAsset().Image)
}

func TestParseRows(t *testing.T) {
	rows, err := parseRows([]byte(`[{"asset_id":"a1","name":"Max","asset_type":"character","image_data":null,"created_at":"2026-01-02T03:04:05Z"}]`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.AssetCharacter, rows[0].toAsset().Type)

	_, err = parseRows([]byte(`{"message":"permission denied"}`))
	require.Error(t, err)
}
