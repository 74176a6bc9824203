// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，API 服务器与 metrics 服务器各用一个实例。
Run 以 context 驱动：ctx 取消后在 ShutdownTimeout 内优雅关闭，适合放进
errgroup 与其他组件一起运行。

# 主要能力

  - Listen：提前绑定端口，Addr 返回实际地址（支持 ":0"）
  - Run：阻塞服务直到 ctx 取消或服务出错，Serving 在开始服务时关闭
  - Shutdown：幂等的优雅关闭，之后 Listen/Run 返回 ErrClosed
  - State：idle → listening → serving → closed
*/
package server
