package storage

import (
	"io"
)

// FileInfo 上传文档的元数据
type FileInfo struct {
	ID       string // 文档唯一标识符，处理管线以此引用原始文件
	Name     string // 上传时的原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // MIME类型，按扩展名推断
	Path     string // 存储内部路径(实现相关)
}

// Storage 原始文档存储接口
// 上传的PDF、Markdown、纯文本文件在转换前都先落到这里
// 支持本地磁盘和MinIO两种实现
type Storage interface {
	// Save 保存上传的文档并返回文件信息
	Save(reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文档内容，调用方负责关闭
	Get(id string) (io.ReadCloser, error)

	// Delete 删除文档
	Delete(id string) error

	// List 列出所有文档
	List() ([]FileInfo, error)

	// Exists 检查文档是否存在
	Exists(id string) (bool, error)
}

// Factory 存储实现的工厂函数
type Factory func(cfg interface{}) (Storage, error)
