// Command structsize prints the in-memory layout of StreamDb's core
// on-disk structures.
package main

import (
	"fmt"
	"unsafe"

	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
)

func main() {
	fmt.Printf("Page      align: %d, size: %d (on-disk marshaled size is fixed at %d)\n",
		unsafe.Alignof(pagestore.Page{}), unsafe.Sizeof(pagestore.Page{}), pagestore.Size)
	fmt.Printf("Link      align: %d, size: %d (marshaled size %d)\n",
		unsafe.Alignof(vlink.Link{}), unsafe.Sizeof(vlink.Link{}), vlink.Size)
	fmt.Printf("Slot      align: %d, size: %d\n",
		unsafe.Alignof(vlink.Slot{}), unsafe.Sizeof(vlink.Slot{}))
	fmt.Printf("Roots     align: %d, size: %d\n",
		unsafe.Alignof(vlink.Roots{}), unsafe.Sizeof(vlink.Roots{}))
	fmt.Printf("MaxData per page: %d bytes\n", pagestore.MaxData)
}
