package depth

import "errors"

var (
	// ErrDecode 输入图片无法读取或解码
	ErrDecode = errors.New("decode failure")
	// ErrDimensionMismatch 彩色图与深度图尺寸未对齐
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrExportNotReady 导出时还没有可用的网格
	ErrExportNotReady = errors.New("export not ready: mesh has not been built")
	// ErrSerialization 二进制容器编码失败
	ErrSerialization = errors.New("serialization failure")
	// ErrInvalidParam 参数越界
	ErrInvalidParam = errors.New("invalid parameter")
)
