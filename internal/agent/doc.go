// Package agent 编排一次聊天轮次：限流、输入清洗、上下文组装、两阶段模型调用、
// 并行工具执行与操作识别。模型不可用时回落到基于关键字的确定性应答，
// 保证用户始终能得到基于实时数据的回复。
package agent
