package database

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/supabase-community/supabase-go"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/config"
	"shotbook-server/modules/common/model"
)

const assetsTable = "shotbook_assets"

type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
	}, nil
}

// assetRow - shotbook_assets 테이블 행
type assetRow struct {
	AssetID     string    `json:"asset_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AssetType   string    `json:"asset_type"`
	ImageData   *string   `json:"image_data"`
	ImageMIME   *string   `json:"image_mime"`
	CreatedAt   time.Time `json:"created_at"`
}

func rowFromAsset(a model.Asset) assetRow {
	row := assetRow{
		AssetID:     a.ID,
		Name:        a.Name,
		Description: a.Description,
		AssetType:   string(a.Type),
		CreatedAt:   a.CreatedAt,
	}
	if len(a.Image) > 0 {
		data := base64.StdEncoding.EncodeToString(a.Image)
		mime := a.ImageMIME
		row.ImageData = &data
		row.ImageMIME = &mime
	}
	return row
}

func (r assetRow) toAsset() model.Asset {
	a := model.Asset{
		ID:          r.AssetID,
		Name:        r.Name,
		Description: r.Description,
		Type:        model.AssetType(r.AssetType),
		CreatedAt:   r.CreatedAt,
	}
	if r.ImageData != nil && *r.ImageData != "" {
		if data, err := base64.StdEncoding.DecodeString(*r.ImageData); err == nil {
			a.Image = data
		} else {
			log.Printf("⚠️  Asset %s has an unreadable image: %v", r.AssetID, err)
		}
	}
	if r.ImageMIME != nil {
		a.ImageMIME = *r.ImageMIME
	}
	return a
}

func parseRows(data []byte) ([]assetRow, error) {
	var rows []assetRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return rows, nil
}

// AssetRepository - Supabase 기반 에셋 라이브러리
type AssetRepository struct {
	client *Client
}

// NewAssetRepository - AssetRepository 생성
func NewAssetRepository(client *Client) *AssetRepository {
	return &AssetRepository{client: client}
}

var _ assets.Library = (*AssetRepository)(nil)

// List - 전체 에셋 조회 (생성 순)
func (r *AssetRepository) List(ctx context.Context) ([]model.Asset, error) {
	data, _, err := r.client.supabase.From(assetsTable).
		Select("*", "exact", false).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", assetsTable, err)
	}

	rows, err := parseRows(data)
	if err != nil {
		return nil, err
	}

	out := make([]model.Asset, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAsset())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	log.Printf("✅ Assets fetched: %d", len(out))
	return out, nil
}

// Get - 에셋 단건 조회
func (r *AssetRepository) Get(ctx context.Context, id string) (*model.Asset, error) {
	data, _, err := r.client.supabase.From(assetsTable).
		Select("*", "exact", false).
		Eq("asset_id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", assetsTable, err)
	}

	rows, err := parseRows(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", assets.ErrAssetNotFound, id)
	}
	asset := rows[0].toAsset()
	return &asset, nil
}

// Save - 에셋 생성/갱신 (asset_id 기준 upsert)
func (r *AssetRepository) Save(ctx context.Context, asset model.Asset) (model.Asset, error) {
	asset, err := assets.Prepare(asset)
	if err != nil {
		return asset, err
	}
	log.Printf("💾 Saving asset: %s (%s)", asset.Name, asset.Type)

	_, _, err = r.client.supabase.From(assetsTable).
		Insert(rowFromAsset(asset), true, "asset_id", "", "").
		Execute()
	if err != nil {
		return asset, fmt.Errorf("failed to insert asset: %w", err)
	}

	log.Printf("✅ Asset saved: %s", asset.ID)
	return asset, nil
}

// Delete - 에셋 삭제
func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	data, _, err := r.client.supabase.From(assetsTable).
		Delete("representation", "").
		Eq("asset_id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	rows, err := parseRows(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", assets.ErrAssetNotFound, id)
	}
	log.Printf("🗑️  Asset deleted: %s", id)
	return nil
}

// AttachImage - 에셋 이미지 교체
func (r *AssetRepository) AttachImage(ctx context.Context, id string, image []byte, mime string) error {
	updateData := map[string]interface{}{
		"image_data": base64.StdEncoding.EncodeToString(image),
		"image_mime": mime,
	}

	data, _, err := r.client.supabase.From(assetsTable).
		Update(updateData, "representation", "").
		Eq("asset_id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update asset image: %w", err)
	}

	rows, err := parseRows(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", assets.ErrAssetNotFound, id)
	}
	log.Printf("✅ Asset %s image attached (%d bytes, %s)", id, len(image), mime)
	return nil
}
