// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 提供循环状态的键值持久化抽象及多后端实现。

# 概述

Scheduler 在每个 cycle 结束时把 running 标志、cycle 计数、CycleTrace、
目标队列与聊天历史写入 StateStore。所有写入都是尽力而为：失败只记录日志
与指标，循环继续使用内存状态运行。

# 核心接口

  - Store: 基础接口，提供 Close 和 Ping 健康检查。
  - StateStore: Put / Get 字节值，Get 未命中返回 ErrNotFound。
  - PutJSON / GetJSON: JSON 编解码辅助函数。

# 后端实现

  - Memory: 内存实现，适合开发与测试。
  - File: 原子写入 JSON 索引（写临时文件后重命名），适合单节点部署。
  - Redis: 基于 go-redis，键带统一前缀。
  - SQL: 基于 gorm 的 state_entries 表，支持 postgres / mysql / sqlite。
  - Mongo: 基于 mongo-driver v2 的 upsert 文档。

# 使用方式

	store, err := persistence.NewStateStore(ctx, persistence.DefaultStoreConfig(), logger)
	err = persistence.PutJSON(ctx, store, persistence.KeyRunning, true)
*/
package persistence
