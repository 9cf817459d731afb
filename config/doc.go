// Package config 提供 checkpointd 的配置管理功能。
//
// 支持从 YAML 文件与环境变量分层加载配置：默认值 → 文件 → 环境变量。
package config
