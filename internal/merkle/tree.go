// 包 merkle：快照承诺树与成员证明（构建 / 出证 / 验证）
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// Hash：定宽 32 字节哈希；避免无约束大整数进入证明路径
type Hash [32]byte

// ZeroHash：零哈希，固定深度补齐位使用
var ZeroHash Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero：是否为补齐用零哈希
func (h Hash) IsZero() bool { return h == ZeroHash }

// 文档注释：域内哈希
// 背景：下游简洁证明电路在素数标量域上运算，哈希值必须落入域内；
// 对 SHA-256 结果清除高 3 位（取低 253 位）保证小于域模数。
// 约束：绝不可退化为 XOR 之类的非密码学混合——验证安全性完全依赖抗碰撞性。
func hashInField(b []byte) Hash {
	h := sha256.Sum256(b)
	h[0] &= 0x1f
	return h
}

// HashLeaf：叶子哈希，带域分隔前缀避免叶子与内部节点互换伪造
func HashLeaf(data []byte) Hash {
	return hashInField(append([]byte{0x00}, data...))
}

// HashPair：内部节点哈希 H(0x01 || left || right)
func HashPair(l, r Hash) Hash {
	buf := make([]byte, 0, 65)
	buf = append(buf, 0x01)
	buf = append(buf, l[:]...)
	buf = append(buf, r[:]...)
	return hashInField(buf)
}

// Leaf：待承诺条目；Key 用于确定性排序与按键出证
type Leaf struct {
	Key  string
	Data []byte
}

var (
	// ErrNotFound：请求出证的键不在树内；不产生部分证明
	ErrNotFound = errors.New("merkle: leaf not found")
	// ErrDepthOverflow：叶子数超出电路固定深度可寻址范围；构建期致命
	ErrDepthOverflow = errors.New("merkle: leaf count exceeds circuit depth")
	// ErrEmpty：空树没有承诺意义
	ErrEmpty = errors.New("merkle: no leaves")
)

// 文档注释：承诺树
// 背景：每个快照构建一次，之后只读、可被并发共享；成员变更只能通过重建（新快照）。
// 约束：奇数层配对规则为复制末节点（与节点自身配对），该规则影响证明形状，
// 构建与验证两侧必须一致，不可改动。
type Tree struct {
	layers [][]Hash
	index  map[string]int
	depth  int // 电路固定深度
}

// Build：确定性构建承诺树
// 参数：circuitDepth 为电路固定深度；实际树高不足时证明用零兄弟补齐到该长度。
// 约束：leaves 内部按 Key 排序保证与发布方构建一致；Key 重复视为数据完整性错误。
func Build(leaves []Leaf, circuitDepth int) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmpty
	}
	if circuitDepth <= 0 || circuitDepth > 62 {
		return nil, fmt.Errorf("merkle: invalid circuit depth %d", circuitDepth)
	}
	if len(leaves) > 1<<circuitDepth {
		return nil, fmt.Errorf("%w: %d leaves, depth %d", ErrDepthOverflow, len(leaves), circuitDepth)
	}
	sorted := append([]Leaf(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	t := &Tree{index: make(map[string]int, len(sorted)), depth: circuitDepth}
	layer := make([]Hash, len(sorted))
	for i, lf := range sorted {
		if _, dup := t.index[lf.Key]; dup {
			return nil, fmt.Errorf("merkle: duplicate leaf key %q", lf.Key)
		}
		t.index[lf.Key] = i
		layer[i] = HashLeaf(lf.Data)
	}
	t.layers = append(t.layers, layer)
	for len(layer) > 1 {
		next := make([]Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, HashPair(layer[i], layer[i+1]))
			} else {
				// 奇数层：末节点与自身配对
				next = append(next, HashPair(layer[i], layer[i]))
			}
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	return t, nil
}

// Root：承诺根
func (t *Tree) Root() Hash { return t.layers[len(t.layers)-1][0] }

// Len：叶子数
func (t *Tree) Len() int { return len(t.layers[0]) }

// Depth：电路固定深度（证明长度）
func (t *Tree) Depth() int { return t.depth }

// Contains：键是否在树内
func (t *Tree) Contains(key string) bool {
	_, ok := t.index[key]
	return ok
}

// 文档注释：成员证明
// 背景：Siblings 与 PathIndices 从叶到根逐层排列；PathIndices 的位型即叶子下标编码。
// 约束：长度恒等于电路固定深度；真实路径更短时以零兄弟（边位 0）补齐，
// 折叠时零兄弟按恒等处理——所有真实哈希均为域内 SHA-256 输出，零值出现概率可忽略。
type Proof struct {
	Root        Hash
	Leaf        Hash
	Siblings    []Hash
	PathIndices []int // 0=补齐或自身在左，1=自身在右
	Depth       int
}

// Prove：按键出证
func (t *Tree) Prove(key string) (*Proof, error) {
	i, ok := t.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return t.ProveIndex(i)
}

// ProveIndex：按叶子下标出证
func (t *Tree) ProveIndex(i int) (*Proof, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, i)
	}
	p := &Proof{
		Root:        t.Root(),
		Leaf:        t.layers[0][i],
		Siblings:    make([]Hash, 0, t.depth),
		PathIndices: make([]int, 0, t.depth),
		Depth:       t.depth,
	}
	idx := i
	for level := 0; level < len(t.layers)-1; level++ {
		layer := t.layers[level]
		var sib Hash
		if idx%2 == 0 {
			if idx+1 < len(layer) {
				sib = layer[idx+1]
			} else {
				// 复制末节点规则下，兄弟即自身
				sib = layer[idx]
			}
			p.PathIndices = append(p.PathIndices, 0)
		} else {
			sib = layer[idx-1]
			p.PathIndices = append(p.PathIndices, 1)
		}
		p.Siblings = append(p.Siblings, sib)
		idx /= 2
	}
	// 零兄弟补齐到电路固定深度
	for len(p.Siblings) < t.depth {
		p.Siblings = append(p.Siblings, ZeroHash)
		p.PathIndices = append(p.PathIndices, 0)
	}
	return p, nil
}

// 文档注释：验证
// 背景：以叶子为起点按边位逐层折叠，与根相等即通过；结果是布尔值，调用方必须显式分支。
// 约束：不抛错误——形状不合法（长度不一致）直接判否。
func Verify(p *Proof) bool {
	if p == nil || len(p.Siblings) != p.Depth || len(p.PathIndices) != p.Depth {
		return false
	}
	cur := p.Leaf
	for i := 0; i < p.Depth; i++ {
		sib := p.Siblings[i]
		if sib.IsZero() {
			continue
		}
		switch p.PathIndices[i] {
		case 0:
			cur = HashPair(cur, sib)
		case 1:
			cur = HashPair(sib, cur)
		default:
			return false
		}
	}
	return cur == p.Root
}
