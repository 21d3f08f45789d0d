// Package grub holds the GRUB legacy configuration placed on boot disks.
package grub

// MenuPath is where GRUB legacy looks for its menu on the first partition.
const MenuPath = "/boot/grub/menu.lst"

// KernelPath is the location of the kernel image on the boot partition.
const KernelPath = "/kernel"

const menuLst = `default 0
timeout 1
title Mirage
root (hd0,0)
kernel /kernel
`

// MenuLst is the boot menu: a single entry booting /kernel from (hd0,0).
var MenuLst = []byte(menuLst)
