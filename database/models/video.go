package models

import "gorm.io/gorm"

// Video 视频目录记录
// 封面流水线只读写其中的 SourceMediaURL / CoverURL 字段，
// 其余字段由上传流程维护。
type Video struct {
	gorm.Model
	Identifier     string `gorm:"uniqueIndex:idx_video_identifier;not null"`
	Title          string `gorm:"not null"`
	SourceMediaURL string `gorm:"column:source_media_url"`
	CoverURL       string `gorm:"column:cover_url"`
	DurationSec    float64
	IsPublic       bool `gorm:"default:true;not null"`
}

// HasCover 判断封面是否已生成
func (v *Video) HasCover() bool {
	return v.CoverURL != ""
}
