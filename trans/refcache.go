package trans

import (
	"fmt"
	"sync"
)

// Cache interns keys to dense consecutive ids. Ids index the fixed runtime
// tables emitted alongside the code, so they must be stable and gap free.
// Safe for concurrent use; lowering of independent classes may run in
// parallel against the shared pools.
type Cache[K comparable] struct {
	mu   sync.RWMutex
	byID []K
	ids  map[K]int
}

// NewCache creates an empty cache.
func NewCache[K comparable]() *Cache[K] {
	return &Cache[K]{ids: make(map[K]int)}
}

// ID returns the dense id for key, assigning the next one on first use.
func (c *Cache[K]) ID(key K) int {
	// Fast path: read-only lookup
	c.mu.RLock()
	if id, ok := c.ids[key]; ok {
		c.mu.RUnlock()
		return id
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := c.ids[key]; ok {
		return id
	}

	id := len(c.byID)
	c.ids[key] = id
	c.byID = append(c.byID, key)
	return id
}

// Lookup returns the id for key without assigning one.
func (c *Cache[K]) Lookup(key K) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[key]
	return id, ok
}

// Len returns the number of interned keys.
func (c *Cache[K]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Keys returns all interned keys in id order.
func (c *Cache[K]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]K, len(c.byID))
	copy(out, c.byID)
	return out
}

// ---------------------------------------------------------------------------
// Emit-side resolution
//
// The emitted runtime resolves classes and member ids lazily. Classes sit in
// a weak-global-ref table and may be collected, so their guard re-resolves
// when the slot is empty or the weak ref went stale. Member ids are valid
// for the lifetime of the defining class and resolve exactly once.
// ---------------------------------------------------------------------------

// EnsureClass emits the double-checked weak-ref guard for owner and returns
// the expression naming the cached class. ownerGetter is the lookup
// expression producing a local jclass ref.
func (ctx *MethodContext) EnsureClass(owner string) string {
	id := ctx.Caches.Classes.ID(owner)
	ctx.Emit("    // class %s\n", owner)
	ctx.Emit("    if (!cclasses[%d] || env->IsSameObject(cclasses[%d], NULL)) { cclasses_mtx[%d].lock(); "+
		"if (!cclasses[%d] || env->IsSameObject(cclasses[%d], NULL)) { if (jclass clazz = %s) { cclasses[%d] = (jclass) env->NewWeakGlobalRef(clazz); env->DeleteLocalRef(clazz); } } "+
		"cclasses_mtx[%d].unlock(); %s }\n",
		id, id, id, id, id, ctx.classGetter(owner), id, id, ctx.FailGuard)
	return fmt.Sprintf("cclasses[%d]", id)
}

// classGetter returns the lookup expression for an internal class name or
// array descriptor.
func (ctx *MethodContext) classGetter(owner string) string {
	if len(owner) > 0 && owner[0] == '[' {
		return fmt.Sprintf("env->FindClass(%s)", ctx.Caches.Pool.Get(owner))
	}
	dotted := dotName(owner)
	return fmt.Sprintf("ngen::find_class_no_static(env, classloader, %s)", ctx.CachedString(dotted))
}

// EnsureInitialized emits the guard that runs static initialization of owner
// before first static access. The initialized flag is set only on success,
// so a failed initializer is retried by the next access and the failure
// surfaces as the pending exception each time.
func (ctx *MethodContext) EnsureInitialized(owner string) {
	id := ctx.Caches.Classes.ID(owner)
	dotted := dotName(owner)
	ctx.Emit("    if (!cclasses_initialized[%[1]d].load()) { cclasses_mtx[%[1]d].lock(); "+
		"if (!cclasses_initialized[%[1]d].load()) { ngen::ensure_initialized(env, classloader, %[2]s); "+
		"if (!env->ExceptionCheck()) { cclasses_initialized[%[1]d].store(true); } } "+
		"cclasses_mtx[%[1]d].unlock(); %[3]s }\n",
		id, ctx.CachedString(dotted), ctx.FailGuard)
}

// ResolveField emits the once-only jfieldID lookup and returns the cache
// expression. classPtr names the already-ensured owning class.
func (ctx *MethodContext) ResolveField(sym SymbolRef, classPtr string) string {
	id := ctx.Caches.Fields.ID(sym)
	kind := ""
	if sym.Static {
		kind = "Static"
	}
	ctx.Emit("    std::call_once(cfields_init[%[1]d], [&]() { cfields[%[1]d] = env->Get%[2]sFieldID(%[3]s, %[4]s, %[5]s); }); %[6]s\n",
		id, kind, classPtr, ctx.Caches.Pool.Get(sym.Name), ctx.Caches.Pool.Get(sym.Desc), ctx.FailGuard)
	return fmt.Sprintf("cfields[%d]", id)
}

// ResolveMethod emits the once-only jmethodID lookup and returns the cache
// expression.
func (ctx *MethodContext) ResolveMethod(sym SymbolRef, classPtr string) string {
	id := ctx.Caches.Methods.ID(sym)
	kind := ""
	if sym.Static {
		kind = "Static"
	}
	ctx.Emit("    std::call_once(cmethods_init[%[1]d], [&]() { cmethods[%[1]d] = env->Get%[2]sMethodID(%[3]s, %[4]s, %[5]s); }); %[6]s\n",
		id, kind, classPtr, ctx.Caches.Pool.Get(sym.Name), ctx.Caches.Pool.Get(sym.Desc), ctx.FailGuard)
	return fmt.Sprintf("cmethods[%d]", id)
}

// ClassRef returns the guarded class expression for a member access. Static
// access to the method's own class skips the guard and the initialization
// check: execution being inside the class proves both already happened.
func (ctx *MethodContext) ClassRef(owner string, static bool) string {
	if static && owner == ctx.Method.Owner {
		return "clazz"
	}
	ptr := ctx.EnsureClass(owner)
	if static {
		ctx.EnsureInitialized(owner)
	}
	return ptr
}

// CachedString returns the expression for the interned runtime jstring of s.
func (ctx *MethodContext) CachedString(s string) string {
	return fmt.Sprintf("cstrings[%d]", ctx.Caches.Strings.ID(s))
}

func dotName(internal string) string {
	b := []byte(internal)
	for i, c := range b {
		if c == '/' {
			b[i] = '.'
		}
	}
	return string(b)
}
