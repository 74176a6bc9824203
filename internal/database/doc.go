// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库打开与连接池管理。

# 概述

Open 按驱动名（postgres / mysql / sqlite）选择 GORM Dialector，
Pool 持有底层 *sql.DB：应用连接池限制，按间隔后台 ping 并只记录健康状态的变化，
并通过 prometheus 的 DBStatsCollector 导出连接池统计。
SQL 状态存储（agent/persistence.SQLStore）与迁移命令都通过本包获取连接。

# 核心类型

  - Open：按驱动打开 *gorm.DB，sqlite 使用纯 Go 的 glebarez/sqlite。
  - Pool：Gorm()、Ping()、Healthy()、Stats()、Collector()、Close()。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与 keepalive 间隔，零值取默认。
*/
package database
