// Package hostfunc provides the host side of the guest call ABI.
//
// Host functions are Go functions that sandboxed code reaches through a host
// module. Every capability collects its functions in a [Registry], and the
// executor links each registry under the capability's scheme key.
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("get", func(ctx context.Context, args map[string]any) (any, error) {
//	    key, err := hostfunc.String(args, "key")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return lookup(key), nil
//	})
//
// # Guest ABI
//
// [Link] instantiates a host module exporting a single function:
//
//	call(fn_ptr, fn_len, args_ptr, args_len i32) -> i64
//
// The guest passes the function name and a JSON object of arguments. The
// host answers with a JSON [CallResponse] written into memory obtained from
// the guest's alloc export, returning ptr<<32 | len.
//
// In the other direction, [Invoke] writes a JSON payload into the guest and
// calls an export with the signature export(ptr, len i32) -> i64.
package hostfunc
