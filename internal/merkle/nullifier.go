package merkle

// 文档注释：上下文绑定的防重放值
// 背景：隐私保护的属区证明需要一个与证明上下文绑定、又无法反推用户秘密的公开输入；
// 同一秘密在不同（活动 / 权威 / 纪元）组合下得到不同值，跨上下文重放即失效。
// 约束：确定性哈希链，逐段吸收上下文；任何一段变化都会改变结果。
// 该值与承诺根一起作为公开输入交给外部证明器，本模块不生成简洁证明本体。
func Nullifier(secret []byte, campaignID, authorityHash, epochID string) Hash {
	h := hashInField(append([]byte("nullifier/v1:"), secret...))
	h = chain(h, []byte(campaignID))
	h = chain(h, []byte(authorityHash))
	h = chain(h, []byte(epochID))
	return h
}

func chain(prev Hash, seg []byte) Hash {
	buf := make([]byte, 0, len(prev)+len(seg))
	buf = append(buf, prev[:]...)
	buf = append(buf, seg...)
	return hashInField(buf)
}
