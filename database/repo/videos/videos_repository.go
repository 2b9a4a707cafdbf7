package videos

import (
	"github.com/acgntube/coverd/database/models"
	"gorm.io/gorm"
)

// Repository 视频目录仓库
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建视频仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByIdentifier 通过标识符获取视频
func (r *Repository) GetByIdentifier(identifier string) (*models.Video, error) {
	var video models.Video
	err := r.db.Where("identifier = ?", identifier).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// UpdateCoverURL 写入生成好的封面地址
func (r *Repository) UpdateCoverURL(identifier string, coverURL string) error {
	result := r.db.Model(&models.Video{}).
		Where("identifier = ?", identifier).
		Update("cover_url", coverURL)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListMissingCover 查询缺失封面的视频，最旧优先，保证重复回扫推进确定
func (r *Repository) ListMissingCover(limit int) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.Model(&models.Video{}).
		Where("cover_url IS NULL OR cover_url = ''").
		Order("created_at ASC").
		Limit(limit).
		Find(&videos).Error
	return videos, err
}

// Create 保存视频记录（上传流程使用）
func (r *Repository) Create(video *models.Video) error {
	return r.db.Create(video).Error
}
