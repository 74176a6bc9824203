// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 SQL 状态存储的 Schema 迁移，基于 golang-migrate。

# 概述

各方言（postgres / mysql / sqlite）的迁移文件通过 embed 内嵌在
migrations/<dialect>/ 下，创建 persistence.SQLStore 使用的
state_entries 表。连接通过 internal/database 打开，sqlite 使用纯 Go
的 glebarez 驱动，golang-migrate 只借用底层 *sql.DB。

# 核心类型

  - Migrator：Up/Down/Steps/Goto/Force/Version/Status/Info
  - Runner：CLI 依赖的操作集合，便于测试替换
  - CLI：`agentloop migrate <command>` 的终端输出层
  - FromStoreConfig：从 persistence.StoreConfig 构建迁移器
*/
package migration
